/*
   Copyright 2025 The DIRPX Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dirpx.dev/bindx/internal/logging"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"trace": logging.TraceLevel,
		"DEBUG": zapcore.DebugLevel,
		"":      zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	} {
		got, err := logging.ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := logging.ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	l, err := logging.New(&logging.Config{Level: "debug", Format: "console", Fields: map[string]string{"app": "x"}})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.False(t, l.Core().Enabled(logging.TraceLevel))

	_, err = logging.New(&logging.Config{Format: "xml"})
	assert.Error(t, err)

	l, err = logging.New(nil)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestTestLogger(t *testing.T) {
	tl := logging.NewTestLogger()
	tl.Info("service rejected", zap.Int64("service.id", 3))
	tl.AssertLogged(t, zapcore.InfoLevel, "rejected")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "rejected")
	assert.Equal(t, 1, tl.FilterMessage("service").Len())
	tl.Reset()
	assert.Empty(t, tl.All())
}

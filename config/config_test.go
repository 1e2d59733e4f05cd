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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/config"
)

func TestDefaultConfigValues(t *testing.T) {
	got := config.DefaultConfig()

	assert.Equal(t, config.DefaultBindingPolicy, got.BindingPolicy)
	assert.Equal(t, config.DefaultAggregate, got.Aggregate)
	assert.Equal(t, config.DefaultOptional, got.Optional)
	assert.Equal(t, config.DefaultTrackInterceptors, got.TrackInterceptors)
	assert.Equal(t, config.DefaultFilterCacheTTL, got.FilterCacheTTL)
	assert.Empty(t, got.Filter)
}

func TestNewConfig_NoOptions_EqualsDefault(t *testing.T) {
	assert.Equal(t, config.DefaultConfig(), config.NewConfig())
}

func TestOptionsOrder_LastWins(t *testing.T) {
	c := config.NewConfig(
		config.WithBindingPolicy(apis.Static),
		config.WithBindingPolicy(apis.DynamicPriority),
		config.WithAggregate(false),
		config.WithAggregate(true),
		config.WithOptional(true),
		config.WithFilter("(a=1)"),
		config.WithTrackInterceptors(false),
		config.WithFilterCacheTTL(time.Minute),
	)

	assert.Equal(t, apis.DynamicPriority, c.BindingPolicy)
	assert.True(t, c.Aggregate)
	assert.True(t, c.Optional)
	assert.Equal(t, "(a=1)", c.Filter)
	assert.False(t, c.TrackInterceptors)
	assert.Equal(t, time.Minute, c.FilterCacheTTL)
}

func TestWithFilterCacheTTL_NonPositive_ResetsToDefault(t *testing.T) {
	c := config.NewConfig(config.WithFilterCacheTTL(-time.Second))
	assert.Equal(t, config.DefaultFilterCacheTTL, c.FilterCacheTTL)
}

func TestLoadBytes_YAML(t *testing.T) {
	cfg, err := config.LoadBytes([]byte(`
binding_policy: dynamic-priority
aggregate: true
filter: (region=eu)
filter_cache_ttl: 5m
`))
	require.NoError(t, err)
	assert.Equal(t, apis.DynamicPriority, cfg.BindingPolicy)
	assert.True(t, cfg.Aggregate)
	assert.False(t, cfg.Optional)
	assert.Equal(t, "(region=eu)", cfg.Filter)
	assert.Equal(t, 5*time.Minute, cfg.FilterCacheTTL)
	assert.True(t, cfg.TrackInterceptors)
}

func TestLoadBytes_EnvOverrides(t *testing.T) {
	t.Setenv("BINDX_BINDING_POLICY", "static")
	t.Setenv("BINDX_OPTIONAL", "true")

	cfg, err := config.LoadBytes([]byte("binding_policy: dynamic\n"))
	require.NoError(t, err)
	assert.Equal(t, apis.Static, cfg.BindingPolicy)
	assert.True(t, cfg.Optional)
}

func TestLoadBytes_BadPolicy(t *testing.T) {
	_, err := config.LoadBytes([]byte("binding_policy: sometimes\n"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bindx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aggregate: true\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Aggregate)

	cfg, err = config.Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestParseBindingPolicy(t *testing.T) {
	for in, want := range map[string]apis.BindingPolicy{
		"":                 apis.Dynamic,
		"dynamic":          apis.Dynamic,
		"STATIC":           apis.Static,
		"dynamic-priority": apis.DynamicPriority,
	} {
		got, err := apis.ParseBindingPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := apis.ParseBindingPolicy("nope")
	assert.Error(t, err)
}

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

package bindx

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/builder"
	"dirpx.dev/bindx/config"
	"dirpx.dev/bindx/registry"
)

// countingBuilder wraps the default builder and counts registry builds.
type countingBuilder struct {
	apis.Builder
	builds atomic.Int32
	prev   atomic.Pointer[apis.Registry]
}

func (b *countingBuilder) BuildRegistry(cfg apis.Config, prev apis.Registry) apis.Registry {
	b.builds.Add(1)
	b.prev.Store(&prev)
	return b.Builder.BuildRegistry(cfg, prev)
}

type nilBuilder struct{ apis.Builder }

func (nilBuilder) BuildRegistry(apis.Config, apis.Registry) apis.Registry { return nil }

// reset installs a fresh default snapshot for the test.
func reset(t *testing.T) *countingBuilder {
	t.Helper()
	b := &countingBuilder{Builder: builder.New()}
	cfg := config.DefaultConfig()
	SetAll(&cfg, nil, b, zap.NewNop())
	UnpinRegistry()
	Registry().Reset()
	t.Cleanup(func() {
		cfg := config.DefaultConfig()
		SetAll(&cfg, nil, builder.New(), zap.NewNop())
	})
	return b
}

func TestDefaults(t *testing.T) {
	reset(t)
	assert.Equal(t, config.DefaultConfig(), Config())
	assert.NotNil(t, Registry())
	assert.NotNil(t, Builder())
	assert.NotNil(t, Logger())
	assert.False(t, IsRegistryPinned())
}

func TestSetConfig_RebuildsAndMigrates(t *testing.T) {
	b := reset(t)
	before := Registry()
	_, err := Register([]string{"svc.A"}, "a", map[string]any{"zone": "eu"})
	require.NoError(t, err)
	builds := b.builds.Load()

	SetConfig(config.NewConfig(config.WithAggregate(true)))

	assert.True(t, Config().Aggregate)
	assert.Equal(t, builds+1, b.builds.Load())
	assert.Same(t, before, *b.prev.Load())
	assert.NotSame(t, before, Registry())
	refs, err := Registry().References("svc.A", "(zone=eu)")
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestRebuild_KeepsHandlesAndDependencies(t *testing.T) {
	reset(t)
	d, err := NewDependency("svc.A")
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()
	r, err := Register([]string{"svc.A"}, "a", nil)
	require.NoError(t, err)
	id := r.Reference().ID()

	SetConfig(config.NewConfig(config.WithFilterCacheTTL(time.Minute)))

	refs, err := Registry().References("svc.A", "")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, id, refs[0].ID())

	b, err := Register([]string{"svc.A"}, "b", map[string]any{apis.ServiceRanking: 5})
	require.NoError(t, err)
	assert.Equal(t, b.Reference().ID(), d.ServiceReference().ID())

	require.NoError(t, r.Unregister())
	require.NoError(t, b.Unregister())
	assert.Equal(t, 0, Registry().Count())
	assert.Equal(t, 0, d.Size())
	assert.Equal(t, apis.Unresolved, d.State())
}

func TestPinnedRegistry(t *testing.T) {
	b := reset(t)
	mine := registry.New(config.DefaultConfig())
	SetRegistry(mine)
	require.True(t, IsRegistryPinned())
	builds := b.builds.Load()

	SetConfig(config.NewConfig(config.WithOptional(true)))
	SetBuilder(b)

	assert.Same(t, mine, Registry())
	assert.Equal(t, builds, b.builds.Load())

	UnpinRegistry()
	SetConfig(config.DefaultConfig())
	assert.NotSame(t, mine, Registry())

	PinRegistry()
	assert.True(t, IsRegistryPinned())
}

func TestNilArgumentsAreIgnored(t *testing.T) {
	reset(t)
	reg, bld, log := Registry(), Builder(), Logger()
	SetRegistry(nil)
	SetBuilder(nil)
	SetLogger(nil)
	SetAll(nil, nil, nil, nil)
	assert.Same(t, reg, Registry())
	assert.Equal(t, bld, Builder())
	assert.Same(t, log, Logger())
}

func TestNilRegistryPanics(t *testing.T) {
	reset(t)
	assert.PanicsWithValue(t, ErrNilRegistry, func() { SetBuilder(nilBuilder{builder.New()}) })
}

func TestNewDependency(t *testing.T) {
	reset(t)
	SetConfig(config.NewConfig(config.WithFilter("(zone=eu)"), config.WithAggregate(true)))

	d, err := NewDependency("svc.A")
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	assert.True(t, d.Aggregate())
	assert.Equal(t, "(zone=eu)", d.Filter().String())

	_, err = Register([]string{"svc.A"}, "us", map[string]any{"zone": "us"})
	require.NoError(t, err)
	eu, err := Register([]string{"svc.A"}, "eu", map[string]any{"zone": "eu"})
	require.NoError(t, err)

	refs := d.ServiceReferences()
	require.Len(t, refs, 1)
	assert.Equal(t, eu.Reference().ID(), refs[0].ID())
	assert.Equal(t, apis.Resolved, d.State())

	t.Run("bad filter", func(t *testing.T) {
		SetConfig(config.NewConfig(config.WithFilter("(zone=eu")))
		_, err := NewDependency("svc.A")
		assert.Error(t, err)
	})
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	reset(t)
	workers := runtime.GOMAXPROCS(0) * 2
	var wg sync.WaitGroup
	wg.Add(workers + 1)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = Config()
				_ = Registry().Count()
				_ = Builder()
			}
		}()
	}
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			SetConfig(config.NewConfig(config.WithOptional(i%2 == 0)))
		}
	}()
	wg.Wait()
	assert.False(t, Config().Optional)
}

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

package registry_test

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/config"
	"dirpx.dev/bindx/registry"
)

// TestConcurrentPublishAndLookup verifies that Register/SetProperties/
// Unregister/References are race-free and that a listener is never entered
// concurrently.
func TestConcurrentPublishAndLookup(t *testing.T) {
	reg := registry.New(config.DefaultConfig())

	var (
		inside   atomic.Int32
		overlaps atomic.Int32
		events   atomic.Int64
	)
	reg.AddListener("svc", apis.ListenerFunc(func(apis.ServiceEvent) {
		if inside.Add(1) > 1 {
			overlaps.Add(1)
		}
		events.Add(1)
		inside.Add(-1)
	}))

	wg := sync.WaitGroup{}
	workers := runtime.GOMAXPROCS(0) * 4

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r, err := reg.Register([]string{"svc"}, i, map[string]any{"worker": id})
				if err != nil {
					t.Errorf("register: %v", err)
					return
				}
				_ = r.SetProperties(map[string]any{"worker": id, "i": i})
				if _, err := reg.References("svc", "(worker=*)"); err != nil {
					t.Errorf("references: %v", err)
					return
				}
				_ = r.Unregister()
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, 0, reg.Count())
	assert.Equal(t, int32(0), overlaps.Load())
	assert.Equal(t, int64(workers*200*3), events.Load())
}

// TestConcurrentMove moves the registry repeatedly while publishers keep
// using the registrations and the registry handle they started with.
func TestConcurrentMove(t *testing.T) {
	first := registry.New(config.DefaultConfig())
	var events atomic.Int64
	first.AddListener("svc", apis.ListenerFunc(func(apis.ServiceEvent) { events.Add(1) }))

	const rounds = 100
	workers := runtime.GOMAXPROCS(0) * 2
	var wg sync.WaitGroup
	wg.Add(workers + 1)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				r, err := first.Register([]string{"svc"}, i, map[string]any{"worker": id})
				if err != nil {
					t.Errorf("register: %v", err)
					return
				}
				if err := r.SetProperties(map[string]any{"worker": id, "i": i}); err != nil {
					t.Errorf("set properties: %v", err)
					return
				}
				if err := r.Unregister(); err != nil {
					t.Errorf("unregister: %v", err)
					return
				}
			}
		}(w)
	}
	last := first
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			next := registry.New(config.DefaultConfig())
			if err := registry.Move(next, last); err != nil {
				t.Errorf("move: %v", err)
				return
			}
			last = next
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, last.Count())
	assert.Equal(t, 0, first.Count())
	assert.Equal(t, int64(workers*rounds*3), events.Load())
}

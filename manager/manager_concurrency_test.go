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

package manager_test

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/config"
	"dirpx.dev/bindx/filter"
	"dirpx.dev/bindx/interceptor"
	"dirpx.dev/bindx/manager"
	"dirpx.dev/bindx/reference"
	"dirpx.dev/bindx/registry"
	"dirpx.dev/bindx/tracker"
)

// TestConcurrentPopulationChanges hammers the manager from many publishers
// while interceptors come and go, then checks the final state against the
// registry.
func TestConcurrentPopulationChanges(t *testing.T) {
	fx := newFixture(t, nil, nil)
	workers := runtime.GOMAXPROCS(0) * 4
	const rounds = 25

	var wg sync.WaitGroup
	wg.Add(workers + 1)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				r, err := fx.reg.Register([]string{spec}, w, map[string]any{apis.ServiceRanking: i % 5})
				if err != nil {
					t.Error(err)
					return
				}
				_ = r.SetProperties(map[string]any{apis.ServiceRanking: (i + w) % 7, "w": w})
				if i%2 == 0 {
					_ = r.Unregister()
				}
				_ = fx.m.SelectedServices()
				_ = fx.m.FirstService()
			}
		}(w)
	}
	go func() {
		defer wg.Done()
		pass := interceptor.NewTracking("pass", func(_ apis.DependencyContext, _ apis.RegistryAccess, ref apis.TransformedReference) (apis.TransformedReference, bool) {
			return ref, true
		})
		for i := 0; i < rounds; i++ {
			fx.m.AddTrackingInterceptor(pass)
			fx.m.InvalidateSelectedServices()
			fx.m.RemoveTrackingInterceptor(pass)
		}
	}()
	wg.Wait()

	live, err := fx.reg.References(spec, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, ids(live), ids(fx.m.MatchingServices()))
	assert.Equal(t, ids(reference.Sort(fx.m.MatchingServices(), nil)), ids(fx.m.SelectedServices()))
	for _, cs := range fx.dep.changeSets() {
		assert.False(t, cs.IsEmpty())
	}
}

// TestSelection_Properties drives random population changes and checks the
// manager invariants after every step.
func TestSelection_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reg := registry.New(config.DefaultConfig())
		dep := newFakeDep(reg)
		m := manager.New(dep, filter.MustParse("(zone=eu)"), nil)
		trk := tracker.New(reg, spec, m)
		dep.trk.Store(trk)
		require.NoError(rt, trk.Open())
		defer trk.Close()

		type entry struct {
			reg  apis.Registration
			zone string
		}
		var live []entry
		props := func(label string) (map[string]any, string) {
			zone := rapid.SampledFrom([]string{"eu", "us"}).Draw(rt, label+"-zone")
			return map[string]any{
				apis.ServiceRanking: rapid.IntRange(-2, 2).Draw(rt, label+"-rank"),
				"zone":              zone,
			}, zone
		}

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 2).Draw(rt, "op")
			switch {
			case op == 0 || len(live) == 0:
				p, zone := props("add")
				r, err := reg.Register([]string{spec}, i, p)
				require.NoError(rt, err)
				live = append(live, entry{reg: r, zone: zone})
			case op == 1:
				k := rapid.IntRange(0, len(live)-1).Draw(rt, "modify")
				p, zone := props("modify")
				require.NoError(rt, live[k].reg.SetProperties(p))
				live[k].zone = zone
			default:
				k := rapid.IntRange(0, len(live)-1).Draw(rt, "remove")
				require.NoError(rt, live[k].reg.Unregister())
				live = append(live[:k], live[k+1:]...)
			}

			var want []int64
			for _, e := range live {
				if e.zone == "eu" {
					want = append(want, id(e.reg))
				}
			}
			matching := m.MatchingServices()
			selected := m.SelectedServices()
			assert.ElementsMatch(rt, want, ids(matching))
			for _, s := range selected {
				assert.GreaterOrEqual(rt, reference.IndexOf(matching, s.ID()), 0, "selected service %d is not matching", s.ID())
			}
			assert.Equal(rt, ids(reference.Sort(matching, nil)), ids(selected))
		}

		sel := ids(m.SelectedServices())
		before := len(dep.changeSets())
		m.InvalidateMatchingServices()
		assert.Equal(rt, sel, ids(m.SelectedServices()))
		assert.Len(rt, dep.changeSets(), before)
	})
}

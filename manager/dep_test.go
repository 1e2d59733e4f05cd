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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/config"
	"dirpx.dev/bindx/manager"
	"dirpx.dev/bindx/registry"
	"dirpx.dev/bindx/tracker"
)

const spec = "svc.Greeter"

type notification struct {
	ev  apis.EventType
	ref apis.Reference
	svc any
}

// fakeDep is a minimal dependency recording what the manager hands it.
type fakeDep struct {
	mu    sync.RWMutex
	id    string
	props map[string]any
	reg   apis.Registry
	trk   atomic.Pointer[tracker.Tracker]
	match func(apis.Reference) bool

	state  atomic.Int32
	frozen atomic.Bool

	rec     sync.Mutex
	changes []apis.ChangeSet
	events  []notification
}

var _ apis.Dependency = (*fakeDep)(nil)

func newFakeDep(reg apis.Registry) *fakeDep {
	return &fakeDep{
		id:    "greeter",
		props: map[string]any{apis.DependencyIDProperty: "greeter", apis.DependencySpecificationProperty: spec},
		reg:   reg,
	}
}

func (d *fakeDep) ID() string                 { return d.id }
func (d *fakeDep) Specification() string      { return spec }
func (d *fakeDep) Aggregate() bool            { return true }
func (d *fakeDep) Optional() bool             { return false }
func (d *fakeDep) Properties() map[string]any { return d.props }
func (d *fakeDep) Locker() apis.RWLocker      { return &d.mu }
func (d *fakeDep) Registry() apis.Registry    { return d.reg }
func (d *fakeDep) IsFrozen() bool             { return d.frozen.Load() }
func (d *fakeDep) State() apis.State          { return apis.State(d.state.Load()) }

func (d *fakeDep) Match(ref apis.Reference) bool {
	return d.match == nil || d.match(ref)
}

func (d *fakeDep) Tracker() apis.Tracker {
	if t := d.trk.Load(); t != nil {
		return t
	}
	return nil
}

func (d *fakeDep) OnChange(cs apis.ChangeSet) {
	d.rec.Lock()
	defer d.rec.Unlock()
	d.changes = append(d.changes, cs)
}

func (d *fakeDep) NotifyListeners(ev apis.EventType, ref apis.Reference, svc any) {
	d.rec.Lock()
	defer d.rec.Unlock()
	d.events = append(d.events, notification{ev: ev, ref: ref, svc: svc})
}

func (d *fakeDep) changeSets() []apis.ChangeSet {
	d.rec.Lock()
	defer d.rec.Unlock()
	return append([]apis.ChangeSet(nil), d.changes...)
}

func (d *fakeDep) last(t *testing.T) apis.ChangeSet {
	t.Helper()
	cs := d.changeSets()
	require.NotEmpty(t, cs, "no change set fired")
	return cs[len(cs)-1]
}

func (d *fakeDep) notifications() []notification {
	d.rec.Lock()
	defer d.rec.Unlock()
	return append([]notification(nil), d.events...)
}

type fixture struct {
	reg apis.Registry
	dep *fakeDep
	m   *manager.Manager
	trk *tracker.Tracker
}

// newFixture wires a manager to a real registry and tracker. The tracker is
// opened once the manager exists.
func newFixture(t *testing.T, f apis.Filter, cmp apis.Comparator, opts ...manager.Option) *fixture {
	t.Helper()
	reg := registry.New(config.DefaultConfig())
	dep := newFakeDep(reg)
	m := manager.New(dep, f, cmp, opts...)
	trk := tracker.New(reg, spec, m)
	dep.trk.Store(trk)
	require.NoError(t, m.Open())
	require.NoError(t, trk.Open())
	t.Cleanup(func() {
		trk.Close()
		m.Close()
	})
	return &fixture{reg: reg, dep: dep, m: m, trk: trk}
}

func (fx *fixture) register(t *testing.T, rank int, props map[string]any) apis.Registration {
	t.Helper()
	p := map[string]any{apis.ServiceRanking: rank}
	for k, v := range props {
		p[k] = v
	}
	r, err := fx.reg.Register([]string{spec}, &greeter{rank: rank}, p)
	require.NoError(t, err)
	return r
}

type greeter struct{ rank int }

func ids(refs []apis.Reference) []int64 {
	out := make([]int64, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID())
	}
	return out
}

func id(r apis.Registration) int64 { return r.Reference().ID() }

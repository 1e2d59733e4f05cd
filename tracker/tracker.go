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

// Package tracker follows the services published under one specification
// and reports their life cycle to a customizer.
package tracker

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/filter"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// WithFilter restricts tracking to services matching expr.
func WithFilter(expr string) Option {
	return func(t *Tracker) { t.expr = expr }
}

// Tracker tracks the services of one specification in a registry.
type Tracker struct {
	reg  apis.Registry
	spec string
	expr string
	f    apis.Filter
	c    apis.Customizer
	log  *zap.Logger

	mu      sync.Mutex
	open    bool
	cancel  func()
	tracked map[int64]entry
	used    map[int64]int
}

type entry struct {
	ref apis.Reference
	svc any
}

var _ apis.Tracker = (*Tracker)(nil)

// New returns a closed tracker. c may be nil, in which case every service
// is tracked.
func New(reg apis.Registry, spec string, c apis.Customizer, opts ...Option) *Tracker {
	t := &Tracker{reg: reg, spec: spec, c: c, log: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open starts tracking. Services already published are offered to the
// customizer before Open returns.
func (t *Tracker) Open() error {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return nil
	}
	f, err := filter.Compile(t.expr)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.f = f
	t.open = true
	t.tracked = make(map[int64]entry)
	t.used = make(map[int64]int)
	t.mu.Unlock()

	cancel := t.reg.AddListener(t.spec, apis.ListenerFunc(t.serviceChanged))
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	refs, err := t.reg.References(t.spec, t.expr)
	if err != nil {
		t.Close()
		return err
	}
	for _, ref := range refs {
		t.add(ref, false)
	}
	t.log.Debug("tracker opened", zap.String("spec", t.spec), zap.Int("initial", len(refs)))
	return nil
}

// Close stops tracking without notifying the customizer.
func (t *Tracker) Close() {
	t.mu.Lock()
	cancel := t.cancel
	t.open = false
	t.cancel = nil
	t.tracked = nil
	t.used = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsOpen reports whether the tracker is open.
func (t *Tracker) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// References returns the tracked references ordered by identity.
func (t *Tracker) References() ([]apis.Reference, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil, false
	}
	out := make([]apis.Reference, 0, len(t.tracked))
	for _, e := range t.tracked {
		out = append(out, e.ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, true
}

// Size returns the number of tracked services.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

// Service returns the object of ref and marks it as used.
func (t *Tracker) Service(ref apis.Reference) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil, false
	}
	e, ok := t.tracked[ref.ID()]
	if !ok {
		return nil, false
	}
	t.used[ref.ID()]++
	return e.svc, true
}

// UngetService releases one use of ref.
func (t *Tracker) UngetService(ref apis.Reference) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return
	}
	if n := t.used[ref.ID()]; n > 1 {
		t.used[ref.ID()] = n - 1
	} else {
		delete(t.used, ref.ID())
	}
}

// UsedReferences returns the tracked references whose service is in use.
func (t *Tracker) UsedReferences() []apis.Reference {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []apis.Reference
	for id := range t.used {
		if e, ok := t.tracked[id]; ok {
			out = append(out, e.ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (t *Tracker) serviceChanged(ev apis.ServiceEvent) {
	switch ev.Type {
	case apis.Registered:
		if t.matches(ev.Reference) {
			t.add(ev.Reference, false)
		}
	case apis.Modified:
		if !t.matches(ev.Reference) {
			t.remove(ev.Reference)
			return
		}
		t.add(ev.Reference, true)
	case apis.Unregistering:
		t.remove(ev.Reference)
	}
}

func (t *Tracker) matches(ref apis.Reference) bool {
	t.mu.Lock()
	f := t.f
	t.mu.Unlock()
	return f == nil || f.Match(ref)
}

// add tracks ref. For an already tracked service it records the new
// snapshot and, when modified is set, reports the modification.
func (t *Tracker) add(ref apis.Reference, modified bool) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	e, known := t.tracked[ref.ID()]
	if known {
		e.ref = ref
		t.tracked[ref.ID()] = e
	}
	t.mu.Unlock()

	if known {
		if modified && t.c != nil {
			t.c.ModifiedService(ref, e.svc)
		}
		return
	}
	if t.c != nil && !t.c.AddingService(ref) {
		return
	}
	svc, ok := t.reg.Service(ref)
	if !ok {
		t.log.Debug("service withdrawn before it was tracked", zap.Int64("service.id", ref.ID()))
		return
	}
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	if _, raced := t.tracked[ref.ID()]; raced {
		t.mu.Unlock()
		return
	}
	t.tracked[ref.ID()] = entry{ref: ref, svc: svc}
	t.mu.Unlock()
	if t.c != nil {
		t.c.AddedService(ref)
	}
}

func (t *Tracker) remove(ref apis.Reference) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	e, known := t.tracked[ref.ID()]
	delete(t.tracked, ref.ID())
	delete(t.used, ref.ID())
	t.mu.Unlock()
	if known && t.c != nil {
		t.c.RemovedService(ref, e.svc)
	}
}

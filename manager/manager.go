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

// Package manager implements the service reference manager of a dependency.
//
// The manager keeps two views of the services tracked for a dependency:
//
//   - the matching set: every service accepted by the tracking interceptor
//     chain, in arrival order, each wrapped in a transformed reference;
//   - the selection: the subset chosen and ordered by the active ranking
//     interceptor. Its head is the service bound by scalar dependencies.
//
// Every service event and every interceptor change recomputes the selection
// and produces an apis.ChangeSet handed to the dependency.
//
// # Locking
//
// The manager shares the lock of its dependency (apis.Dependency.Locker).
// Exported methods take that lock themselves and release it before calling
// the dependency back, so callers must not hold it. Interceptor Accept and
// ranking calls run under the write lock; interceptor Open and Close calls
// and binding decoration run with the lock released.
package manager

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/chain"
	"dirpx.dev/bindx/interceptor"
	"dirpx.dev/bindx/metrics"
	"dirpx.dev/bindx/reference"
	"dirpx.dev/bindx/tracker"
)

const (
	// TracerName is the instrumentation name of the default tracer.
	TracerName = "dirpx.dev/bindx/manager"
	// SpanName names the span of a full recomputation.
	SpanName = "bindx.manager.recompute"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.rec = r
		}
	}
}

// WithTracer sets the tracer used for full recomputations.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithInterceptorTracking enables discovery of interceptors published in
// the dependency registry.
func WithInterceptorTracking(enabled bool) Option {
	return func(m *Manager) { m.discover = enabled }
}

type bindingLink struct {
	ic  apis.BindingInterceptor
	ref apis.Reference
}

type rankingLink struct {
	ic  apis.RankingInterceptor
	ref apis.Reference
}

// Manager is the service reference manager of one dependency.
type Manager struct {
	dep apis.Dependency
	mu  apis.RWLocker

	log      *zap.Logger
	rec      metrics.Recorder
	tracer   trace.Tracer
	discover bool

	// Guarded by mu.
	matching   *matchingSet
	selected   []apis.Reference
	tracking   chain.Tracking
	ranking    apis.RankingInterceptor
	rankingRef apis.Reference
	candidates []rankingLink
	bindings   []bindingLink // replaced, never mutated in place
	filter     apis.Filter
	comparator apis.Comparator
	trackers   []*tracker.Tracker
	gen        uint64 // bumped by Reset
}

// New creates a closed manager for dep. f is the dependency filter and cmp
// the ranking comparator; both may be nil.
func New(dep apis.Dependency, f apis.Filter, cmp apis.Comparator, opts ...Option) *Manager {
	m := &Manager{
		dep:        dep,
		mu:         dep.Locker(),
		log:        zap.NewNop(),
		rec:        metrics.Nop,
		tracer:     otel.Tracer(TracerName),
		matching:   newMatchingSet(),
		filter:     f,
		comparator: cmp,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("dependency", dep.ID()))
	m.tracking = chain.New(interceptor.NewFilter(f, dep.Match))
	m.ranking = defaultRanking(cmp)
	return m
}

func defaultRanking(cmp apis.Comparator) apis.RankingInterceptor {
	if cmp != nil {
		return interceptor.NewComparator(cmp)
	}
	return interceptor.NewDefault()
}

// write runs fn under the write lock.
func (m *Manager) write(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// read runs fn under the read lock.
func (m *Manager) read(fn func()) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn()
}

// Open starts discovering interceptors in the dependency registry, binding
// interceptors first, then ranking, then tracking. Without a registry, or
// with discovery disabled, Open does nothing.
func (m *Manager) Open() error {
	reg := m.dep.Registry()
	if !m.discover || reg == nil {
		return nil
	}
	var open bool
	m.read(func() { open = len(m.trackers) > 0 })
	if open {
		return nil
	}
	kinds := []struct {
		spec string
		d    *discovery
	}{
		{apis.BindingInterceptorSpec, &discovery{m: m, kind: metrics.FailureBinding, attach: m.attachBinding, detach: m.detachBinding}},
		{apis.RankingInterceptorSpec, &discovery{m: m, kind: metrics.FailureRanking, attach: m.attachRanking, detach: m.detachRanking}},
		{apis.TrackingInterceptorSpec, &discovery{m: m, kind: metrics.FailureTracking, attach: m.attachTracking, detach: m.detachTracking}},
	}
	var opened []*tracker.Tracker
	for _, k := range kinds {
		t := tracker.New(reg, k.spec, k.d, tracker.WithLogger(m.log))
		k.d.t = t
		if err := t.Open(); err != nil {
			for _, o := range opened {
				o.Close()
			}
			return fmt.Errorf("bindx(manager): open %s interceptor tracker: %w", k.d.kind, err)
		}
		opened = append(opened, t)
	}
	m.write(func() { m.trackers = opened })
	return nil
}

// Close stops interceptor discovery, clears the matching set and selection,
// and closes every attached interceptor.
func (m *Manager) Close() {
	m.Reset()
}

// Reset clears all state and closes every attached interceptor. Interceptor
// trackers are closed first so no interceptor is attached meanwhile.
func (m *Manager) Reset() {
	var trackers []*tracker.Tracker
	m.write(func() {
		trackers = m.trackers
		m.trackers = nil
	})
	for _, t := range trackers {
		t.Close()
	}

	var (
		tracking []apis.TrackingInterceptor
		bindings []bindingLink
		ranking  apis.RankingInterceptor
	)
	m.write(func() {
		for _, l := range m.tracking.Links() {
			tracking = append(tracking, l.Interceptor)
		}
		bindings = m.bindings
		ranking = m.ranking

		m.tracking = chain.New(interceptor.NewFilter(m.filter, m.dep.Match))
		m.ranking = defaultRanking(m.comparator)
		m.rankingRef = nil
		m.candidates = nil
		m.bindings = nil
		m.matching = newMatchingSet()
		m.selected = nil
		m.gen++
	})
	for _, ic := range tracking {
		m.safely(metrics.FailureTracking, ic, func() { ic.Close(m.dep) })
	}
	m.safely(metrics.FailureRanking, ranking, func() { ranking.Close(m.dep) })
	for _, l := range bindings {
		m.safely(metrics.FailureBinding, l.ic, func() { l.ic.Close(m.dep) })
	}
	m.rec.Selected(m.dep.ID(), 0)
}

// MatchingServices returns the matching set in arrival order.
func (m *Manager) MatchingServices() []apis.Reference {
	var out []apis.Reference
	m.read(func() { out = m.matching.values() })
	return out
}

// SelectedServices returns the current selection in ranking order.
func (m *Manager) SelectedServices() []apis.Reference {
	var out []apis.Reference
	m.read(func() { out = append([]apis.Reference(nil), m.selected...) })
	return out
}

// FirstService returns the head of the selection, or nil.
func (m *Manager) FirstService() apis.Reference {
	var out apis.Reference
	m.read(func() { out = first(m.selected) })
	return out
}

// Contains reports whether ref is selected.
func (m *Manager) Contains(ref apis.Reference) bool {
	var ok bool
	m.read(func() { ok = reference.IndexOf(m.selected, ref.ID()) >= 0 })
	return ok
}

// IsEmpty reports whether the selection is empty.
func (m *Manager) IsEmpty() bool {
	var ok bool
	m.read(func() { ok = len(m.selected) == 0 })
	return ok
}

// Size returns the size of the selection.
func (m *Manager) Size() int {
	var n int
	m.read(func() { n = len(m.selected) })
	return n
}

// Filter returns the dependency filter, possibly nil.
func (m *Manager) Filter() apis.Filter {
	var f apis.Filter
	m.read(func() { f = m.filter })
	return f
}

// Comparator returns the configured comparator, possibly nil.
func (m *Manager) Comparator() apis.Comparator {
	var c apis.Comparator
	m.read(func() { c = m.comparator })
	return c
}

// RankingInterceptor returns the active ranking interceptor.
func (m *Manager) RankingInterceptor() apis.RankingInterceptor {
	var r apis.RankingInterceptor
	m.read(func() { r = m.ranking })
	return r
}

// RankingInterceptorReference returns the registry reference of the active
// ranking interceptor, nil when it was not discovered in the registry.
func (m *Manager) RankingInterceptorReference() apis.Reference {
	var r apis.Reference
	m.read(func() { r = m.rankingRef })
	return r
}

// TrackingInterceptors returns the attached tracking interceptors, newest
// first. The filter policy closing the chain is not included.
func (m *Manager) TrackingInterceptors() []apis.TrackingInterceptor {
	var out []apis.TrackingInterceptor
	m.read(func() {
		for _, l := range m.tracking.Links() {
			out = append(out, l.Interceptor)
		}
	})
	return out
}

// TrackingInterceptorReferences returns the registry references of the
// discovered tracking interceptors.
func (m *Manager) TrackingInterceptorReferences() []apis.Reference {
	var out []apis.Reference
	m.read(func() {
		for _, l := range m.tracking.Links() {
			if l.Ref != nil {
				out = append(out, l.Ref)
			}
		}
	})
	return out
}

// BindingInterceptors returns the attached binding interceptors in
// attachment order.
func (m *Manager) BindingInterceptors() []apis.BindingInterceptor {
	var out []apis.BindingInterceptor
	m.read(func() {
		for _, l := range m.bindings {
			out = append(out, l.ic)
		}
	})
	return out
}

// BindingInterceptorReferences returns the registry references of the
// discovered binding interceptors.
func (m *Manager) BindingInterceptorReferences() []apis.Reference {
	var out []apis.Reference
	m.read(func() {
		for _, l := range m.bindings {
			if l.ref != nil {
				out = append(out, l.ref)
			}
		}
	})
	return out
}

func first(refs []apis.Reference) apis.Reference {
	if len(refs) == 0 {
		return nil
	}
	return refs[0]
}

// fire hands a non-empty change set to the dependency.
func (m *Manager) fire(cs apis.ChangeSet) {
	if cs.IsEmpty() {
		return
	}
	m.dep.OnChange(cs)
}

// safely runs an interceptor call, containing panics. It reports whether
// fn returned normally.
func (m *Manager) safely(kind string, ic any, fn func()) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("interceptor panicked",
				zap.String("kind", kind),
				zap.String("interceptor", interceptor.Name(ic)),
				zap.Any("panic", p))
			m.rec.InterceptorFailed(m.dep.ID(), kind)
			ok = false
		}
	}()
	fn()
	return true
}

// span starts a recomputation span.
func (m *Manager) span(kind string) trace.Span {
	_, sp := m.tracer.Start(context.Background(), SpanName,
		trace.WithAttributes(
			attribute.String("bindx.dependency", m.dep.ID()),
			attribute.String("bindx.kind", kind),
		))
	return sp
}

func (m *Manager) observe(kind string, start time.Time) {
	m.rec.Recomputed(m.dep.ID(), kind, time.Since(start))
}

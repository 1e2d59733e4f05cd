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

package manager

import (
	"fmt"

	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/chain"
	"dirpx.dev/bindx/interceptor"
	"dirpx.dev/bindx/metrics"
	"dirpx.dev/bindx/reference"
)

// AddTrackingInterceptor opens ic, inserts it at the head of the tracking
// chain, recomputes the matching set and fires the change set.
func (m *Manager) AddTrackingInterceptor(ic apis.TrackingInterceptor) {
	m.addTracking(ic, nil)
}

// RemoveTrackingInterceptor detaches ic, recomputes the matching set, closes
// ic and fires the change set. It reports whether ic was attached.
func (m *Manager) RemoveTrackingInterceptor(ic apis.TrackingInterceptor) bool {
	var (
		cs      apis.ChangeSet
		removed bool
	)
	m.write(func() {
		var next chain.Tracking
		if next, removed = m.tracking.Remove(ic); !removed {
			return
		}
		m.tracking = next
		cs = m.recomputeLocked(metrics.KindFull)
	})
	if !removed {
		return false
	}
	m.safely(metrics.FailureTracking, ic, func() { ic.Close(m.dep) })
	m.fire(cs)
	return true
}

func (m *Manager) addTracking(ic apis.TrackingInterceptor, ref apis.Reference) {
	gen := m.generation()
	m.safely(metrics.FailureTracking, ic, func() { ic.Open(m.dep) })
	var (
		cs    apis.ChangeSet
		stale bool
	)
	m.write(func() {
		if stale = m.gen != gen; stale {
			return
		}
		m.tracking = m.tracking.Prepend(ic, ref)
		cs = m.recomputeLocked(metrics.KindFull)
	})
	if stale {
		m.discard(metrics.FailureTracking, ic, func() { ic.Close(m.dep) })
		return
	}
	m.fire(cs)
}

func (m *Manager) attachTracking(ref apis.Reference, svc any) error {
	ic, ok := svc.(apis.TrackingInterceptor)
	if !ok {
		return fmt.Errorf("%w: %T is not a tracking interceptor", ErrInterceptorLookup, svc)
	}
	m.addTracking(ic, ref)
	return nil
}

func (m *Manager) detachTracking(ref apis.Reference) {
	var (
		cs   apis.ChangeSet
		gone apis.TrackingInterceptor
		ok   bool
	)
	m.write(func() {
		var next chain.Tracking
		if next, gone, ok = m.tracking.RemoveRef(ref.ID()); !ok {
			return
		}
		m.tracking = next
		cs = m.recomputeLocked(metrics.KindFull)
	})
	if !ok {
		return
	}
	m.safely(metrics.FailureTracking, gone, func() { gone.Close(m.dep) })
	m.fire(cs)
}

// AddBindingInterceptor opens ic and appends it to the binding chain.
// Services already bound keep their current object.
func (m *Manager) AddBindingInterceptor(ic apis.BindingInterceptor) {
	m.addBinding(ic, nil)
}

// RemoveBindingInterceptor detaches and closes ic. It reports whether ic was
// attached.
func (m *Manager) RemoveBindingInterceptor(ic apis.BindingInterceptor) bool {
	gone, ok := m.removeBinding(func(l bindingLink) bool { return chain.Same(l.ic, ic) })
	if ok {
		m.safely(metrics.FailureBinding, gone, func() { gone.Close(m.dep) })
	}
	return ok
}

func (m *Manager) addBinding(ic apis.BindingInterceptor, ref apis.Reference) {
	gen := m.generation()
	m.safely(metrics.FailureBinding, ic, func() { ic.Open(m.dep) })
	var stale bool
	m.write(func() {
		if stale = m.gen != gen; stale {
			return
		}
		next := make([]bindingLink, 0, len(m.bindings)+1)
		next = append(next, m.bindings...)
		m.bindings = append(next, bindingLink{ic: ic, ref: ref})
	})
	if stale {
		m.discard(metrics.FailureBinding, ic, func() { ic.Close(m.dep) })
	}
}

func (m *Manager) removeBinding(pred func(bindingLink) bool) (apis.BindingInterceptor, bool) {
	var (
		gone apis.BindingInterceptor
		ok   bool
	)
	m.write(func() {
		for i, l := range m.bindings {
			if !pred(l) {
				continue
			}
			next := make([]bindingLink, 0, len(m.bindings)-1)
			next = append(next, m.bindings[:i]...)
			m.bindings = append(next, m.bindings[i+1:]...)
			gone, ok = l.ic, true
			return
		}
	})
	return gone, ok
}

func (m *Manager) attachBinding(ref apis.Reference, svc any) error {
	ic, ok := svc.(apis.BindingInterceptor)
	if !ok {
		return fmt.Errorf("%w: %T is not a binding interceptor", ErrInterceptorLookup, svc)
	}
	m.addBinding(ic, ref)
	return nil
}

func (m *Manager) detachBinding(ref apis.Reference) {
	gone, ok := m.removeBinding(func(l bindingLink) bool { return l.ref != nil && l.ref.ID() == ref.ID() })
	if ok {
		m.safely(metrics.FailureBinding, gone, func() { gone.Close(m.dep) })
	}
}

// SetRankingInterceptor opens ic, makes it the active ranking interceptor,
// ranks the matching set again and fires the change set. The displaced
// interceptor is closed.
func (m *Manager) SetRankingInterceptor(ic apis.RankingInterceptor) {
	m.setRanking(ic, nil, m.generation())
}

// SetComparator installs a comparator ranking. A nil cmp ranks in natural
// order.
func (m *Manager) SetComparator(cmp apis.Comparator) {
	if cmp == nil {
		cmp = reference.Preferred
	}
	gen := m.generation()
	m.write(func() { m.comparator = cmp })
	m.setRanking(interceptor.NewComparator(cmp), nil, gen)
}

// setRanking activates ic unless the manager was reset since gen was read.
func (m *Manager) setRanking(ic apis.RankingInterceptor, ref apis.Reference, gen uint64) {
	m.log.Info("ranking interceptor changed", zap.String("interceptor", interceptor.Name(ic)))
	m.safely(metrics.FailureRanking, ic, func() { ic.Open(m.dep) })
	var (
		cs    apis.ChangeSet
		prev  apis.RankingInterceptor
		stale bool
	)
	m.write(func() {
		if stale = m.gen != gen; stale {
			return
		}
		prev = m.ranking
		m.ranking, m.rankingRef = ic, ref
		cs = m.rerankLocked(metrics.KindRanking)
	})
	if stale {
		m.discard(metrics.FailureRanking, ic, func() { ic.Close(m.dep) })
		return
	}
	if prev != nil && !chain.Same(prev, ic) {
		m.safely(metrics.FailureRanking, prev, func() { prev.Close(m.dep) })
	}
	m.fire(cs)
}

func (m *Manager) attachRanking(ref apis.Reference, svc any) error {
	ic, ok := svc.(apis.RankingInterceptor)
	if !ok {
		return fmt.Errorf("%w: %T is not a ranking interceptor", ErrInterceptorLookup, svc)
	}
	var gen uint64
	m.write(func() {
		gen = m.gen
		m.candidates = append(m.candidates, rankingLink{ic: ic, ref: ref})
	})
	m.setRanking(ic, ref, gen)
	return nil
}

// detachRanking forgets a discovered ranking interceptor. When it is the
// active one the best remaining candidate takes over, else the comparator,
// else the default ranking.
func (m *Manager) detachRanking(ref apis.Reference) {
	var (
		active bool
		next   *rankingLink
		cmp    apis.Comparator
		gen    uint64
	)
	m.write(func() {
		gen = m.gen
		kept := m.candidates[:0:0]
		for _, c := range m.candidates {
			if c.ref.ID() != ref.ID() {
				kept = append(kept, c)
			}
		}
		m.candidates = kept
		active = m.rankingRef != nil && m.rankingRef.ID() == ref.ID()
		if !active {
			return
		}
		for i := range kept {
			if next == nil || reference.Preferred(kept[i].ref, next.ref) < 0 {
				next = &kept[i]
			}
		}
		cmp = m.comparator
	})
	switch {
	case !active:
	case next != nil:
		m.setRanking(next.ic, next.ref, gen)
	case cmp != nil:
		m.setRanking(interceptor.NewComparator(cmp), nil, gen)
	default:
		m.setRanking(interceptor.NewDefault(), nil, gen)
	}
}

// generation returns the number of resets so far.
func (m *Manager) generation() uint64 {
	var gen uint64
	m.read(func() { gen = m.gen })
	return gen
}

// discard closes an interceptor opened while the manager was reset.
func (m *Manager) discard(kind string, ic any, closeFn func()) {
	m.log.Debug("manager reset while the interceptor opened, closing it",
		zap.String("kind", kind),
		zap.String("interceptor", interceptor.Name(ic)))
	m.safely(kind, ic, closeFn)
}

// WeaveBinding passes svc through every binding interceptor in attachment
// order and returns the object to bind. An interceptor failing or returning
// nil leaves the current object in place. Interceptors run under the read
// lock and must not change the dependency.
func (m *Manager) WeaveBinding(ref apis.Reference, svc any) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur := svc
	for _, l := range m.bindings {
		out, err := m.decorate(l.ic, ref, cur)
		switch {
		case err != nil:
			m.log.Error("binding interceptor failed",
				zap.String("interceptor", interceptor.Name(l.ic)),
				zap.Int64("service", ref.ID()),
				zap.Error(err))
			m.rec.InterceptorFailed(m.dep.ID(), metrics.FailureBinding)
		case out == nil:
			m.log.Error("binding interceptor returned no service",
				zap.String("interceptor", interceptor.Name(l.ic)),
				zap.Int64("service", ref.ID()))
			m.rec.InterceptorFailed(m.dep.ID(), metrics.FailureBinding)
		default:
			cur = out
		}
	}
	return cur
}

// UnweaveBinding tells every binding interceptor that ref is no longer bound.
func (m *Manager) UnweaveBinding(ref apis.Reference) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.bindings {
		m.safely(metrics.FailureBinding, l.ic, func() { l.ic.UngetService(m.dep, ref) })
	}
}

func (m *Manager) decorate(ic apis.BindingInterceptor, ref apis.Reference, svc any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("bindx(manager): binding interceptor panicked: %v", p)
		}
	}()
	return ic.GetService(m.dep, ref, svc)
}

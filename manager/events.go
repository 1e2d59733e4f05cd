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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/interceptor"
	"dirpx.dev/bindx/metrics"
	"dirpx.dev/bindx/reference"
)

var _ apis.Customizer = (*Manager)(nil)

// hook asks a ranking interceptor for a selection over the matching set.
type hook func(r apis.RankingInterceptor, matching []apis.Reference) []apis.Reference

// AddingService implements apis.Customizer. Nothing is tracked while the
// dependency is broken or frozen.
func (m *Manager) AddingService(apis.Reference) bool {
	return m.dep.State() != apis.Broken && !m.dep.IsFrozen()
}

// AddedService implements apis.Customizer.
func (m *Manager) AddedService(ref apis.Reference) {
	start := time.Now()
	var (
		cs       apis.ChangeSet
		accepted apis.Reference
		ok       bool
	)
	m.write(func() {
		if accepted, ok = m.evaluateLocked(ref); !ok {
			return
		}
		m.matching.put(accepted)
		cs = m.installLocked(m.rankLocked(m.onArrival(accepted)))
	})
	if !ok {
		return
	}
	m.observe(metrics.KindArrival, start)
	m.fire(cs)
	m.dep.NotifyListeners(apis.Arrival, accepted, nil)
}

// ModifiedService implements apis.Customizer. The service is evaluated again;
// depending on the outcome the event is a departure, a modification, an
// arrival or nothing at all.
func (m *Manager) ModifiedService(ref apis.Reference, svc any) {
	start := time.Now()
	var (
		cs   apis.ChangeSet
		ev   apis.EventType
		out  apis.Reference
		kind string
	)
	m.write(func() {
		prev, was := m.matching.get(ref.ID())
		next, ok := m.evaluateLocked(ref)
		switch {
		case was && !ok:
			m.matching.remove(ref.ID())
			cs = m.installLocked(m.rankLocked(m.onDeparture(prev)))
			ev, out, kind = apis.Departure, prev, metrics.KindDeparture
		case was:
			if reference.SameProperties(prev, next) {
				return
			}
			m.matching.put(next)
			cs = m.installLocked(m.rankLocked(m.onModified(next)))
			cs.Modified, cs.Service = next, svc
			ev, out, kind = apis.ModifiedEvent, next, metrics.KindModified
		case ok:
			m.matching.put(next)
			cs = m.installLocked(m.rankLocked(m.onArrival(next)))
			ev, out, kind = apis.Arrival, next, metrics.KindArrival
		}
	})
	if out == nil {
		return
	}
	m.observe(kind, start)
	m.fire(cs)
	switch ev {
	case apis.Arrival:
		m.dep.NotifyListeners(ev, out, nil)
	default:
		m.dep.NotifyListeners(ev, out, svc)
	}
}

// RemovedService implements apis.Customizer.
func (m *Manager) RemovedService(ref apis.Reference, svc any) {
	start := time.Now()
	var (
		cs   apis.ChangeSet
		prev apis.Reference
		was  bool
	)
	m.write(func() {
		if prev, was = m.matching.remove(ref.ID()); !was {
			return
		}
		cs = m.installLocked(m.rankLocked(m.onDeparture(prev)))
	})
	if !was {
		return
	}
	m.observe(metrics.KindDeparture, start)
	m.fire(cs)
	m.dep.NotifyListeners(apis.Departure, prev, svc)
}

// InvalidateMatchingServices evaluates every tracked service again, ranks
// the result and fires the change set.
func (m *Manager) InvalidateMatchingServices() {
	var cs apis.ChangeSet
	m.write(func() { cs = m.recomputeLocked(metrics.KindFull) })
	m.fire(cs)
}

// InvalidateSelectedServices ranks the current matching set again and fires
// the change set.
func (m *Manager) InvalidateSelectedServices() {
	var cs apis.ChangeSet
	m.write(func() { cs = m.rerankLocked(metrics.KindRanking) })
	m.fire(cs)
}

// SetFilter replaces the dependency filter and recomputes the matching set.
// The change set is returned rather than fired: the dependency applies it
// as a reconfiguration.
func (m *Manager) SetFilter(f apis.Filter) apis.ChangeSet {
	var cs apis.ChangeSet
	m.write(func() {
		m.filter = f
		m.tracking = m.tracking.WithTail(interceptor.NewFilter(f, m.dep.Match))
		cs = m.recomputeLocked(metrics.KindFull)
	})
	return cs
}

func (m *Manager) onArrival(ref apis.Reference) hook {
	return func(r apis.RankingInterceptor, matching []apis.Reference) []apis.Reference {
		return r.OnServiceArrival(m.dep, matching, ref)
	}
}

func (m *Manager) onDeparture(ref apis.Reference) hook {
	return func(r apis.RankingInterceptor, matching []apis.Reference) []apis.Reference {
		return r.OnServiceDeparture(m.dep, matching, ref)
	}
}

func (m *Manager) onModified(ref apis.Reference) hook {
	return func(r apis.RankingInterceptor, matching []apis.Reference) []apis.Reference {
		return r.OnServiceModified(m.dep, matching, ref)
	}
}

func (m *Manager) fullRanking(r apis.RankingInterceptor, matching []apis.Reference) []apis.Reference {
	return r.ServiceReferences(m.dep, matching)
}

// evaluateLocked runs a fresh transformed reference for ref through the
// tracking chain. Accepted references are frozen.
func (m *Manager) evaluateLocked(ref apis.Reference) (apis.Reference, bool) {
	var reg apis.RegistryAccess
	if r := m.dep.Registry(); r != nil {
		reg = r
	}
	res := m.tracking.Evaluate(m.dep, reg, reference.New(reference.Unwrap(ref)))
	for _, f := range res.Failures {
		m.log.Error("tracking interceptor failed",
			zap.String("interceptor", interceptor.Name(f.Interceptor)),
			zap.Int64("service", ref.ID()),
			zap.Error(f.Err))
		m.rec.InterceptorFailed(m.dep.ID(), metrics.FailureTracking)
	}
	if !res.Accepted() {
		name := interceptor.Name(res.RejectedBy)
		fields := []zap.Field{zap.String("interceptor", name), zap.Int64("service", ref.ID())}
		if _, sentinel := res.RejectedBy.(*interceptor.Filter); sentinel {
			m.log.Debug("service does not match", fields...)
		} else {
			m.log.Info("service rejected", fields...)
		}
		m.rec.Rejected(m.dep.ID(), name)
		return nil, false
	}
	if fr, ok := res.Ref.(interface{ Freeze() }); ok {
		fr.Freeze()
	}
	return res.Ref, true
}

// rankLocked computes a selection from the matching set. The result only
// holds matching set entries; a ranking interceptor failing or returning
// nothing falls back to the natural order.
func (m *Manager) rankLocked(h hook) []apis.Reference {
	matching := m.matching.values()
	if len(matching) == 0 {
		return nil
	}
	var out []apis.Reference
	r := m.ranking
	if !m.safely(metrics.FailureRanking, r, func() { out = h(r, matching) }) {
		return reference.Sort(matching, nil)
	}
	if out == nil {
		m.log.Error("ranking interceptor returned no selection",
			zap.String("interceptor", interceptor.Name(r)))
		m.rec.InterceptorFailed(m.dep.ID(), metrics.FailureRanking)
		return reference.Sort(matching, nil)
	}
	sel := make([]apis.Reference, 0, len(out))
	seen := make(map[int64]struct{}, len(out))
	for _, s := range out {
		if s == nil {
			continue
		}
		cur, ok := m.matching.get(s.ID())
		if !ok {
			m.log.Error("ranking interceptor selected an unknown service",
				zap.String("interceptor", interceptor.Name(r)),
				zap.Int64("service", s.ID()))
			m.rec.InterceptorFailed(m.dep.ID(), metrics.FailureRanking)
			continue
		}
		if _, dup := seen[s.ID()]; dup {
			continue
		}
		seen[s.ID()] = struct{}{}
		sel = append(sel, cur)
	}
	return sel
}

// installLocked replaces the selection and returns the difference.
func (m *Manager) installLocked(sel []apis.Reference) apis.ChangeSet {
	old := m.selected
	departures, arrivals := reference.Diff(old, sel)
	m.selected = sel
	m.rec.Selected(m.dep.ID(), len(sel))
	return apis.ChangeSet{
		Selected:   append([]apis.Reference(nil), sel...),
		Departures: departures,
		Arrivals:   arrivals,
		OldFirst:   first(old),
		NewFirst:   first(sel),
	}
}

// rerankLocked asks the ranking interceptor for a full selection over the
// unchanged matching set.
func (m *Manager) rerankLocked(kind string) apis.ChangeSet {
	start := time.Now()
	cs := m.installLocked(m.rankLocked(m.fullRanking))
	m.observe(kind, start)
	return cs
}

// recomputeLocked rebuilds the matching set from the tracked population and
// ranks it. When the tracker is gone or closed nothing changes and the
// change set is empty.
func (m *Manager) recomputeLocked(kind string) apis.ChangeSet {
	t := m.dep.Tracker()
	if t == nil {
		m.log.Debug("tracker closed during recomputation")
		return apis.ChangeSet{}
	}
	refs, ok := t.References()
	if !ok {
		m.log.Debug("tracker closed during recomputation")
		return apis.ChangeSet{}
	}
	sp := m.span(kind)
	defer sp.End()
	start := time.Now()

	m.matching = newMatchingSet()
	for _, ref := range refs {
		if accepted, ok := m.evaluateLocked(ref); ok {
			m.matching.put(accepted)
		}
	}
	oldFirst := first(m.selected)
	cs := m.installLocked(m.rankLocked(m.fullRanking))
	if oldFirst != nil && cs.NewFirst != nil && oldFirst.ID() == cs.NewFirst.ID() &&
		!reference.SameProperties(oldFirst, cs.NewFirst) {
		cs.Modified = cs.NewFirst
	}
	sp.SetAttributes(
		attribute.Int("bindx.matching", m.matching.len()),
		attribute.Int("bindx.selected", len(cs.Selected)),
	)
	m.observe(kind, start)
	return cs
}

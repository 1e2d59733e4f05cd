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

package dependency

import (
	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/reference"
)

// OnChange implements apis.Dependency. It updates the bound services from
// cs according to the binding policy, then calls the handler with departures
// first, arrivals next and the modification last.
func (d *Dependency) OnChange(cs apis.ChangeSet) {
	var (
		arrivals, departures []apis.Reference
		modified             apis.Reference
		broken               bool
	)
	policy := d.BindingPolicy()
	d.write(func() {
		if d.frozen.Load() && d.State() != apis.Broken {
			for _, ref := range cs.Departures {
				if reference.IndexOf(d.bound, ref.ID()) >= 0 {
					broken = true
					return
				}
			}
		}

		for _, ref := range cs.Departures {
			if i := reference.IndexOf(d.bound, ref.ID()); i >= 0 {
				d.bound = append(d.bound[:i:i], d.bound[i+1:]...)
				departures = append(departures, ref)
			}
		}

		if d.aggregate.Load() {
			if len(d.used) == 0 || policy == apis.DynamicPriority {
				d.bound = append([]apis.Reference(nil), cs.Selected...)
			}
			for _, ref := range cs.Arrivals {
				if reference.IndexOf(d.bound, ref.ID()) < 0 {
					d.bound = append(d.bound, ref)
				}
				arrivals = append(arrivals, ref)
			}
		} else if len(cs.Selected) > 0 {
			best := cs.Selected[0]
			switch {
			case len(d.bound) == 0:
				d.bound = []apis.Reference{best}
				arrivals = append(arrivals, best)
			case d.bound[0].ID() != best.ID():
				current := d.bound[0]
				_, inUse := d.used[current.ID()]
				if policy == apis.DynamicPriority || !inUse {
					d.bound = []apis.Reference{best}
					departures = append(departures, current)
					arrivals = append(arrivals, best)
				}
			}
		}

		d.refreshLocked(cs.Selected)
		if cs.Modified != nil && reference.IndexOf(d.bound, cs.Modified.ID()) >= 0 {
			modified = cs.Modified
		}
	})
	if broken {
		d.breakDependency()
		return
	}
	for _, ref := range departures {
		d.handler.OnServiceDeparture(ref)
	}
	for _, ref := range arrivals {
		d.handler.OnServiceArrival(ref)
	}
	if modified != nil {
		d.handler.OnServiceModification(modified)
	}
	d.computeState()
}

// refreshLocked replaces bound references by their latest selected
// snapshot.
func (d *Dependency) refreshLocked(selected []apis.Reference) {
	for i, b := range d.bound {
		if j := reference.IndexOf(selected, b.ID()); j >= 0 {
			d.bound[i] = selected[j]
		}
	}
}

// breakDependency handles the loss of a frozen static binding: the
// dependency is broken until restarted.
func (d *Dependency) breakDependency() {
	from := d.State()
	if from == apis.Broken || !d.state.CompareAndSwap(int32(from), int32(apis.Broken)) {
		return
	}
	d.frozen.Store(false)
	d.log.Warn("static binding lost, dependency broken")
	d.transition(from, apis.Broken)
}

// SetFilter replaces the filter and rebinds from the recomputed selection.
// The handler receives one reconfiguration callback.
func (d *Dependency) SetFilter(f apis.Filter) {
	cs := d.m.SetFilter(f)
	d.publishProperties(f)
	d.applyReconfiguration(cs)
}

// Filter returns the current filter, possibly nil.
func (d *Dependency) Filter() apis.Filter { return d.m.Filter() }

func (d *Dependency) applyReconfiguration(cs apis.ChangeSet) {
	var arrivals, departures []apis.Reference
	policy := d.BindingPolicy()
	stopped := false
	d.write(func() {
		if d.trk.Load() == nil {
			stopped = true
			return
		}
		var current apis.Reference
		if len(d.bound) > 0 {
			current = d.bound[0]
		}
		d.bound = nil
		if d.aggregate.Load() {
			d.bound = append([]apis.Reference(nil), cs.Selected...)
			arrivals, departures = cs.Arrivals, cs.Departures
			return
		}
		if len(cs.Selected) == 0 {
			if current != nil {
				departures = append(departures, current)
			}
			return
		}
		best := cs.Selected[0]
		i := -1
		if current != nil {
			i = reference.IndexOf(cs.Selected, current.ID())
		}
		switch {
		case current == nil:
			d.bound = []apis.Reference{best}
			arrivals = append(arrivals, best)
		case i >= 0 && (policy != apis.DynamicPriority || current.ID() == best.ID()):
			d.bound = []apis.Reference{cs.Selected[i]}
		default:
			d.bound = []apis.Reference{best}
			departures = append(departures, current)
			arrivals = append(arrivals, best)
		}
	})
	if stopped {
		return
	}
	d.computeState()
	d.handler.OnReconfiguration(departures, arrivals)
}

// SetComparator changes the ranking comparator. A nil cmp ranks in natural
// order.
func (d *Dependency) SetComparator(cmp apis.Comparator) {
	d.m.SetComparator(cmp)
}

// SetAggregate switches between binding the first selected service and
// binding all of them. A resolved dependency binds or unbinds accordingly.
func (d *Dependency) SetAggregate(aggregate bool) {
	selected := d.m.SelectedServices()
	var arrivals, departures []apis.Reference
	d.write(func() {
		was := d.aggregate.Swap(aggregate)
		if was == aggregate || d.trk.Load() == nil || d.State() != apis.Resolved {
			return
		}
		if aggregate {
			for _, ref := range selected {
				if reference.IndexOf(d.bound, ref.ID()) < 0 {
					d.bound = append(d.bound, ref)
					arrivals = append(arrivals, ref)
				}
			}
			return
		}
		if len(d.bound) > 1 {
			departures = append(departures, d.bound[1:]...)
			d.bound = d.bound[:1:1]
		}
	})
	for _, ref := range arrivals {
		d.handler.OnServiceArrival(ref)
	}
	for _, ref := range departures {
		d.handler.OnServiceDeparture(ref)
	}
}

// SetOptional changes the optionality and computes the state again.
func (d *Dependency) SetOptional(optional bool) {
	d.optional.Store(optional)
	d.computeState()
}

// InvalidateMatchingServices asks the manager to evaluate every tracked
// service again.
func (d *Dependency) InvalidateMatchingServices() { d.m.InvalidateMatchingServices() }

// InvalidateSelectedServices asks the manager to rank the matching set again.
func (d *Dependency) InvalidateSelectedServices() { d.m.InvalidateSelectedServices() }

// Service returns the object bound for ref, decorated by the binding
// interceptors, and remembers it as used. Using a service freezes a static
// dependency.
func (d *Dependency) Service(ref apis.Reference) (any, bool) {
	t := d.trk.Load()
	if t == nil {
		return nil, false
	}
	svc, ok := t.Service(ref)
	if !ok {
		return nil, false
	}
	svc = d.m.WeaveBinding(ref, svc)
	d.write(func() { d.used[ref.ID()] = usedService{ref: ref, svc: svc} })
	d.Freeze()
	return svc, true
}

// UngetService releases a service obtained through Service.
func (d *Dependency) UngetService(ref apis.Reference) {
	if t := d.trk.Load(); t != nil {
		t.UngetService(ref)
	}
	var was bool
	d.write(func() {
		_, was = d.used[ref.ID()]
		delete(d.used, ref.ID())
	})
	if was {
		d.m.UnweaveBinding(ref)
	}
}

// ServiceReference returns the first bound reference, or nil.
func (d *Dependency) ServiceReference() apis.Reference {
	var out apis.Reference
	d.read(func() {
		if len(d.bound) > 0 {
			out = d.bound[0]
		}
	})
	return out
}

// ServiceReferences returns the bound references.
func (d *Dependency) ServiceReferences() []apis.Reference {
	var out []apis.Reference
	d.read(func() { out = append([]apis.Reference(nil), d.bound...) })
	return out
}

// UsedServiceReferences returns the bound references whose service object
// is in use. A scalar dependency reports at most one.
func (d *Dependency) UsedServiceReferences() []apis.Reference {
	var out []apis.Reference
	d.read(func() {
		for _, ref := range d.bound {
			if _, ok := d.used[ref.ID()]; !ok {
				continue
			}
			out = append(out, ref)
			if !d.aggregate.Load() {
				return
			}
		}
	})
	return out
}

// Size returns the number of bound services.
func (d *Dependency) Size() int {
	var n int
	d.read(func() { n = len(d.bound) })
	return n
}

// String is used in logs.
func (d *Dependency) String() string {
	return d.id + "@" + d.instance
}

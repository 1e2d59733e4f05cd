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

package apis

import (
	"fmt"
	"strings"
)

// Dependency property keys exposed to interceptor target filters.
const (
	DependencyIDProperty            = "dependency.id"
	DependencySpecificationProperty = "dependency.specification"
	DependencyFilterProperty        = "dependency.filter"
	InstanceNameProperty            = "instance.name"
)

// DependencyContext is the view of a dependency handed to interceptors.
type DependencyContext interface {
	// ID identifies the dependency inside its component instance.
	ID() string
	// Specification is the service interface the dependency requires.
	Specification() string
	// Aggregate reports whether every selected service is bound.
	Aggregate() bool
	// Optional reports whether the dependency resolves with no service.
	Optional() bool
	// Properties returns the properties matched by interceptor targets.
	Properties() map[string]any
}

// RWLocker is the lock shared between a dependency and its manager.
// *sync.RWMutex implements it.
type RWLocker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// Dependency is the owner of a reference manager.
type Dependency interface {
	DependencyContext

	// Locker returns the lock guarding both dependency and manager state.
	Locker() RWLocker
	// Match is the dependency's own acceptance predicate.
	Match(ref Reference) bool
	// OnChange receives every non-discarded ChangeSet. It is called with the
	// lock released.
	OnChange(cs ChangeSet)
	// NotifyListeners forwards a service event. It is called with the lock
	// released.
	NotifyListeners(ev EventType, ref Reference, svc any)
	// Tracker returns the service population tracker or nil.
	Tracker() Tracker
	// Registry returns the registry interceptors are discovered in, or nil.
	Registry() Registry
	// IsFrozen reports whether the binding can no longer change.
	IsFrozen() bool
	// State returns the resolution state.
	State() State
}

// EventType is the kind of a dependency-level service event.
type EventType int

const (
	// Arrival means a service joined the matching set.
	Arrival EventType = iota + 1
	// Departure means a service left the matching set.
	Departure
	// ModifiedEvent means a matching service changed its effective properties.
	ModifiedEvent
)

// String returns the event name.
func (e EventType) String() string {
	switch e {
	case Arrival:
		return "ARRIVAL"
	case Departure:
		return "DEPARTURE"
	case ModifiedEvent:
		return "MODIFIED"
	default:
		return "UNKNOWN"
	}
}

// State is the resolution state of a dependency.
type State int

const (
	// Unresolved means the dependency is not satisfied.
	Unresolved State = iota
	// Resolved means the dependency is satisfied.
	Resolved
	// Broken means a static binding lost its service and cannot recover.
	Broken
)

// String returns a lowercase state name.
func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Broken:
		return "broken"
	default:
		return "unresolved"
	}
}

// BindingPolicy controls how bindings follow the selection.
type BindingPolicy int

const (
	// Dynamic rebinds only when the bound service goes away.
	Dynamic BindingPolicy = iota
	// Static never rebinds once frozen; losing a bound service breaks the dependency.
	Static
	// DynamicPriority always binds the best ranked services.
	DynamicPriority
)

// String returns the configuration spelling of p.
func (p BindingPolicy) String() string {
	switch p {
	case Static:
		return "static"
	case DynamicPriority:
		return "dynamic-priority"
	default:
		return "dynamic"
	}
}

// ParseBindingPolicy parses dynamic, static or dynamic-priority.
func ParseBindingPolicy(s string) (BindingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dynamic":
		return Dynamic, nil
	case "static":
		return Static, nil
	case "dynamic-priority", "dynamic_priority", "priority":
		return DynamicPriority, nil
	default:
		return Dynamic, fmt.Errorf("bindx(apis): unknown binding policy %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p BindingPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *BindingPolicy) UnmarshalText(b []byte) error {
	v, err := ParseBindingPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

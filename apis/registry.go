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

// ServiceEventType is the kind of a registry event.
type ServiceEventType int

const (
	// Registered is fired after a service is published.
	Registered ServiceEventType = iota + 1
	// Modified is fired after the properties of a service changed.
	Modified
	// Unregistering is fired before a service is withdrawn.
	Unregistering
)

// String returns a lowercase name of the event type.
func (t ServiceEventType) String() string {
	switch t {
	case Registered:
		return "registered"
	case Modified:
		return "modified"
	case Unregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

// ServiceEvent describes a change in the registry.
type ServiceEvent struct {
	// Type is the kind of change.
	Type ServiceEventType
	// Reference is the reference after the change. For Unregistering it is
	// the last published snapshot.
	Reference Reference
}

// Listener receives registry events. A registry never calls a given
// listener concurrently with itself.
type Listener interface {
	ServiceChanged(ev ServiceEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev ServiceEvent)

// ServiceChanged calls f(ev).
func (f ListenerFunc) ServiceChanged(ev ServiceEvent) { f(ev) }

// RegistryAccess is the read-only view of a registry handed to interceptors.
type RegistryAccess interface {
	// References returns the services published under spec (all services if
	// spec is empty) matching the LDAP filter expr (all if empty).
	References(spec, expr string) ([]Reference, error)
	// Service returns the service object behind ref.
	Service(ref Reference) (any, bool)
}

// Registry publishes services and notifies listeners about changes.
type Registry interface {
	RegistryAccess

	// Register publishes svc under specs with the given properties.
	Register(specs []string, svc any, props map[string]any) (Registration, error)
	// AddListener subscribes l to events for spec (all specs if empty).
	// The returned function removes the subscription.
	AddListener(spec string, l Listener) (cancel func())
	// Entries returns a snapshot of every published reference.
	Entries() []Reference
	// Count returns the number of published services.
	Count() int
	// Reset withdraws every service without firing events.
	Reset()
}

// Registration is the publisher-side handle of a service.
type Registration interface {
	// Reference returns the current snapshot.
	Reference() Reference
	// SetProperties replaces the mutable properties and fires Modified.
	SetProperties(props map[string]any) error
	// Unregister withdraws the service and fires Unregistering.
	Unregister() error
}

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

// Well-known property keys maintained by the registry.
const (
	// ServiceID is the unique, registry-assigned service identity.
	ServiceID = "service.id"
	// ObjectClass lists the specifications a service is published under.
	ObjectClass = "objectClass"
	// ServiceRanking is the declared rank of a service. Higher wins.
	ServiceRanking = "service.ranking"
)

// Reference is a read-only handle to a published service.
//
// Property lookups are case-insensitive. A Reference returned by a Registry
// is an immutable snapshot: modifying a service publishes a new Reference
// carrying the same ID.
type Reference interface {
	// ID returns the registry-assigned identity.
	ID() int64
	// Ranking returns the effective service.ranking, 0 when absent or non-numeric.
	Ranking() int
	// Property returns the value stored under key.
	Property(key string) (any, bool)
	// PropertyKeys returns the property names in their original case.
	PropertyKeys() []string
	// Specifications returns the objectClass values.
	Specifications() []string
}

// TransformedReference is a Reference carrying a property overlay written by
// tracking interceptors. Identity always delegates to the wrapped reference.
type TransformedReference interface {
	Reference

	// Wrapped returns the published reference this one decorates.
	Wrapped() Reference
	// AddProperty overrides name. Protected keys are refused.
	AddProperty(name string, value any) error
	// AddPropertyIfAbsent overrides name only when it is not already visible.
	AddPropertyIfAbsent(name string, value any) error
	// RemoveProperty hides name. Protected keys are refused.
	RemoveProperty(name string) error
	// Contains reports whether name is visible.
	Contains(name string) bool
}

// Comparator orders references. It returns a negative number when a must be
// selected before b, a positive number when b must be selected first, and 0
// when neither is preferred.
type Comparator func(a, b Reference) int

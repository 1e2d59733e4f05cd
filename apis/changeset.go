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

// ChangeSet is the outcome of one recomputation of a reference manager.
// It is built once, handed to the dependency, then dropped.
type ChangeSet struct {
	// Selected is the new selection in ranking order.
	Selected []Reference
	// Departures are the previously selected references no longer selected.
	Departures []Reference
	// Arrivals are the newly selected references.
	Arrivals []Reference
	// OldFirst is the head of the previous selection, or nil.
	OldFirst Reference
	// NewFirst is the head of the new selection, or nil.
	NewFirst Reference
	// Service is the service object attached to a modification event.
	Service any
	// Modified is the reference whose properties changed, or nil.
	Modified Reference
}

// IsEmpty reports whether the change set carries no change at all.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Departures) == 0 && len(c.Arrivals) == 0 &&
		c.Modified == nil && sameID(c.OldFirst, c.NewFirst)
}

// FirstChanged reports whether the head of the selection changed.
func (c ChangeSet) FirstChanged() bool {
	return !sameID(c.OldFirst, c.NewFirst)
}

func sameID(a, b Reference) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}

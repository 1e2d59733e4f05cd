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

package reference

import (
	"sort"
	"strings"

	"dirpx.dev/bindx/apis"
	uref "dirpx.dev/bindx/utils/reflect"
)

// Compare is the natural order of references: same identity compares 0,
// otherwise effective ranking ascending, ties broken by identity descending.
func Compare(a, b apis.Reference) int {
	if a.ID() == b.ID() {
		return 0
	}
	ra, rb := a.Ranking(), b.Ranking()
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	case a.ID() > b.ID():
		return -1
	default:
		return 1
	}
}

// Preferred orders references best first: effective ranking descending,
// ties broken by identity descending like Compare. It is the default
// ranking comparator.
func Preferred(a, b apis.Reference) int {
	if a.ID() == b.ID() {
		return 0
	}
	ra, rb := a.Ranking(), b.Ranking()
	switch {
	case ra > rb:
		return -1
	case ra < rb:
		return 1
	case a.ID() > b.ID():
		return -1
	default:
		return 1
	}
}

// Sort returns a copy of refs ordered by cmp, Preferred when cmp is nil.
// The sort is stable.
func Sort(refs []apis.Reference, cmp apis.Comparator) []apis.Reference {
	if cmp == nil {
		cmp = Preferred
	}
	out := append([]apis.Reference(nil), refs...)
	sort.SliceStable(out, func(i, j int) bool { return cmp(out[i], out[j]) < 0 })
	return out
}

// SameID reports whether both references denote the same service.
// Two nil references are the same.
func SameID(a, b apis.Reference) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}

// SameProperties reports whether both references expose the same effective
// properties. Keys compare case-insensitively, values with uref.Equal.
func SameProperties(a, b apis.Reference) bool {
	ak, bk := a.PropertyKeys(), b.PropertyKeys()
	if len(ak) != len(bk) {
		return false
	}
	seen := make(map[string]struct{}, len(bk))
	for _, k := range bk {
		seen[strings.ToLower(k)] = struct{}{}
	}
	for _, k := range ak {
		if _, ok := seen[strings.ToLower(k)]; !ok {
			return false
		}
		av, _ := a.Property(k)
		bv, _ := b.Property(k)
		if !uref.Equal(av, bv) {
			return false
		}
	}
	return true
}

// IndexOf returns the position of the reference with id in refs, or -1.
func IndexOf(refs []apis.Reference, id int64) int {
	for i, r := range refs {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

// Diff computes departures and arrivals between two selections by identity.
// Both results keep the order of their source list.
func Diff(before, after []apis.Reference) (departures, arrivals []apis.Reference) {
	in := func(refs []apis.Reference) map[int64]struct{} {
		m := make(map[int64]struct{}, len(refs))
		for _, r := range refs {
			m[r.ID()] = struct{}{}
		}
		return m
	}
	a, b := in(after), in(before)
	for _, r := range before {
		if _, ok := a[r.ID()]; !ok {
			departures = append(departures, r)
		}
	}
	for _, r := range after {
		if _, ok := b[r.ID()]; !ok {
			arrivals = append(arrivals, r)
		}
	}
	return departures, arrivals
}

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

// Package reference implements transformed references: published service
// references decorated with a property overlay written by tracking
// interceptors.
package reference

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"dirpx.dev/bindx/apis"
	uref "dirpx.dev/bindx/utils/reflect"
)

var (
	// ErrIllegalOverride is returned when an overlay touches a protected key.
	ErrIllegalOverride = errors.New("bindx(reference): illegal override of a protected property")
	// ErrFrozen is returned when an overlay is written after the reference
	// was installed in a matching set.
	ErrFrozen = errors.New("bindx(reference): reference is frozen")
)

var protected = map[string]struct{}{
	strings.ToLower(apis.ServiceID):      {},
	strings.ToLower(apis.ObjectClass):    {},
	strings.ToLower(apis.ServiceRanking): {},
}

// IsProtected reports whether name cannot be overridden.
func IsProtected(name string) bool {
	_, ok := protected[strings.ToLower(name)]
	return ok
}

type slot struct {
	key     string
	value   any
	removed bool
}

// Transformed wraps a published reference with a property overlay.
type Transformed struct {
	wrapped apis.Reference

	mu      sync.RWMutex
	base    map[string]slot
	overlay map[string]slot
	frozen  bool
}

var _ apis.TransformedReference = (*Transformed)(nil)

// New snapshots the properties of ref and returns an empty overlay over them.
// If ref is already transformed, the new reference wraps the same published
// reference and starts from its effective properties.
func New(ref apis.Reference) *Transformed {
	t := &Transformed{
		wrapped: Unwrap(ref),
		base:    make(map[string]slot),
		overlay: make(map[string]slot),
	}
	for _, k := range ref.PropertyKeys() {
		if v, ok := ref.Property(k); ok {
			t.base[strings.ToLower(k)] = slot{key: k, value: v}
		}
	}
	return t
}

// Unwrap returns the published reference behind ref.
func Unwrap(ref apis.Reference) apis.Reference {
	for {
		tr, ok := ref.(apis.TransformedReference)
		if !ok {
			return ref
		}
		w := tr.Wrapped()
		if w == nil {
			return ref
		}
		if _, again := w.(apis.TransformedReference); !again {
			return w
		}
		ref = w
	}
}

// Wrapped returns the published reference.
func (t *Transformed) Wrapped() apis.Reference { return t.wrapped }

// ID returns the identity of the published reference.
func (t *Transformed) ID() int64 { return t.wrapped.ID() }

// Specifications returns the objectClass of the published reference.
func (t *Transformed) Specifications() []string { return t.wrapped.Specifications() }

// Ranking returns the effective service.ranking.
func (t *Transformed) Ranking() int {
	v, _ := t.Property(apis.ServiceRanking)
	return uref.Rank(v)
}

// Property returns the effective value of name.
func (t *Transformed) Property(name string) (any, bool) {
	k := strings.ToLower(name)
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.overlay[k]; ok {
		if s.removed {
			return nil, false
		}
		return s.value, true
	}
	s, ok := t.base[k]
	return s.value, ok
}

// Contains reports whether name is visible.
func (t *Transformed) Contains(name string) bool {
	_, ok := t.Property(name)
	return ok
}

// PropertyKeys returns the visible keys sorted case-insensitively.
func (t *Transformed) PropertyKeys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.base)+len(t.overlay))
	for k, s := range t.base {
		if o, ok := t.overlay[k]; ok {
			if !o.removed {
				keys = append(keys, o.key)
			}
			continue
		}
		keys = append(keys, s.key)
	}
	for k, o := range t.overlay {
		if _, ok := t.base[k]; ok || o.removed {
			continue
		}
		keys = append(keys, o.key)
	}
	sort.Slice(keys, func(i, j int) bool { return strings.ToLower(keys[i]) < strings.ToLower(keys[j]) })
	return keys
}

// Properties returns a copy of the effective properties.
func (t *Transformed) Properties() map[string]any {
	out := make(map[string]any)
	for _, k := range t.PropertyKeys() {
		if v, ok := t.Property(k); ok {
			out[k] = v
		}
	}
	return out
}

// AddProperty overrides name with value. A nil value hides the property.
func (t *Transformed) AddProperty(name string, value any) error {
	return t.write(name, value, value == nil, false)
}

// AddPropertyIfAbsent overrides name only when it is not visible yet.
func (t *Transformed) AddPropertyIfAbsent(name string, value any) error {
	return t.write(name, value, value == nil, true)
}

// RemoveProperty hides name.
func (t *Transformed) RemoveProperty(name string) error {
	return t.write(name, nil, true, false)
}

func (t *Transformed) write(name string, value any, removed, ifAbsent bool) error {
	if IsProtected(name) {
		return fmt.Errorf("%w: %s", ErrIllegalOverride, name)
	}
	k := strings.ToLower(name)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return ErrFrozen
	}
	if ifAbsent && t.visibleLocked(k) {
		return nil
	}
	t.overlay[k] = slot{key: name, value: value, removed: removed}
	return nil
}

func (t *Transformed) visibleLocked(k string) bool {
	if s, ok := t.overlay[k]; ok {
		return !s.removed
	}
	_, ok := t.base[k]
	return ok
}

// Freeze makes every later overlay write fail with ErrFrozen.
func (t *Transformed) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// String returns a short description used in logs.
func (t *Transformed) String() string {
	return fmt.Sprintf("ref(id=%d, rank=%d)", t.ID(), t.Ranking())
}

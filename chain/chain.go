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

// Package chain holds the tracking interceptor chain of a dependency.
//
// A Tracking value is immutable: every mutation returns a new chain, so a
// recomputation iterating one snapshot is never disturbed by interceptors
// being attached or detached meanwhile.
package chain

import (
	"errors"
	"fmt"
	"reflect"

	"dirpx.dev/bindx/apis"
)

var (
	// ErrNilResult is recorded when an interceptor accepts a candidate but
	// returns no reference.
	ErrNilResult = errors.New("bindx(chain): interceptor accepted with a nil reference")
	// ErrIdentityChanged is recorded when an interceptor returns a reference
	// to another service.
	ErrIdentityChanged = errors.New("bindx(chain): interceptor changed the service identity")
)

// Link is one attached interceptor. Ref is the registry reference it was
// discovered through, nil when attached directly.
type Link struct {
	Interceptor apis.TrackingInterceptor
	Ref         apis.Reference
}

// Tracking is an ordered chain: attached interceptors newest first, then the
// filter sentinel which is always evaluated last.
type Tracking struct {
	links []Link
	tail  apis.TrackingInterceptor
}

// New constructs a chain holding only the sentinel tail. A nil tail is allowed.
func New(tail apis.TrackingInterceptor) Tracking {
	return Tracking{tail: tail}
}

// Prepend returns a chain with ic inserted at the head.
func (c Tracking) Prepend(ic apis.TrackingInterceptor, ref apis.Reference) Tracking {
	links := make([]Link, 0, len(c.links)+1)
	links = append(links, Link{Interceptor: ic, Ref: ref})
	links = append(links, c.links...)
	return Tracking{links: links, tail: c.tail}
}

// Remove returns a chain without ic and whether it was attached.
func (c Tracking) Remove(ic apis.TrackingInterceptor) (Tracking, bool) {
	return c.removeWhere(func(l Link) bool { return Same(l.Interceptor, ic) })
}

// RemoveRef returns a chain without the interceptor discovered through the
// registry reference with the given identity.
func (c Tracking) RemoveRef(id int64) (Tracking, apis.TrackingInterceptor, bool) {
	var gone apis.TrackingInterceptor
	out, ok := c.removeWhere(func(l Link) bool {
		if l.Ref != nil && l.Ref.ID() == id {
			gone = l.Interceptor
			return true
		}
		return false
	})
	return out, gone, ok
}

func (c Tracking) removeWhere(pred func(Link) bool) (Tracking, bool) {
	for i, l := range c.links {
		if pred(l) {
			links := make([]Link, 0, len(c.links)-1)
			links = append(links, c.links[:i]...)
			links = append(links, c.links[i+1:]...)
			return Tracking{links: links, tail: c.tail}, true
		}
	}
	return c, false
}

// WithTail returns a chain whose sentinel is tail.
func (c Tracking) WithTail(tail apis.TrackingInterceptor) Tracking {
	return Tracking{links: c.links, tail: tail}
}

// Tail returns the sentinel.
func (c Tracking) Tail() apis.TrackingInterceptor { return c.tail }

// Links returns a copy of the attached links, head first, sentinel excluded.
func (c Tracking) Links() []Link { return append([]Link(nil), c.links...) }

// Len returns the number of attached interceptors, sentinel excluded.
func (c Tracking) Len() int { return len(c.links) }

// Contains reports whether ic is attached.
func (c Tracking) Contains(ic apis.TrackingInterceptor) bool {
	for _, l := range c.links {
		if Same(l.Interceptor, ic) {
			return true
		}
	}
	return false
}

// Interceptors returns every interceptor in evaluation order.
func (c Tracking) Interceptors() []apis.TrackingInterceptor {
	out := make([]apis.TrackingInterceptor, 0, len(c.links)+1)
	for _, l := range c.links {
		out = append(out, l.Interceptor)
	}
	if c.tail != nil {
		out = append(out, c.tail)
	}
	return out
}

// Failure records an interceptor that misbehaved while evaluating a candidate.
// The candidate went on unchanged.
type Failure struct {
	Interceptor apis.TrackingInterceptor
	Err         error
}

// Result is the outcome of Evaluate.
type Result struct {
	// Ref is the accepted, possibly transformed, reference. Nil when rejected.
	Ref apis.TransformedReference
	// RejectedBy is the interceptor that rejected the candidate.
	RejectedBy apis.TrackingInterceptor
	// Failures lists contained interceptor failures.
	Failures []Failure
}

// Accepted reports whether the candidate passed every interceptor.
func (r Result) Accepted() bool { return r.Ref != nil }

// Evaluate feeds ref through every interceptor in order. The first rejection
// ends the evaluation. A panicking or misbehaving interceptor is skipped.
func (c Tracking) Evaluate(dep apis.DependencyContext, reg apis.RegistryAccess, ref apis.TransformedReference) Result {
	var res Result
	cur := ref
	for _, ic := range c.Interceptors() {
		out, ok, err := accept(ic, dep, reg, cur)
		switch {
		case err != nil:
			res.Failures = append(res.Failures, Failure{Interceptor: ic, Err: err})
		case !ok:
			res.RejectedBy = ic
			return res
		case out == nil:
			res.Failures = append(res.Failures, Failure{Interceptor: ic, Err: ErrNilResult})
		case out.ID() != ref.ID():
			res.Failures = append(res.Failures, Failure{Interceptor: ic, Err: ErrIdentityChanged})
		default:
			cur = out
		}
	}
	res.Ref = cur
	return res
}

func accept(ic apis.TrackingInterceptor, dep apis.DependencyContext, reg apis.RegistryAccess, ref apis.TransformedReference) (out apis.TransformedReference, ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, ok, err = nil, false, fmt.Errorf("bindx(chain): interceptor panicked: %v", p)
		}
	}()
	out, ok = ic.Accept(dep, reg, ref)
	return out, ok, nil
}

// Same reports whether a and b are the same interceptor. Values of
// non-comparable dynamic types are never the same.
func Same(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

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

package interceptor

import (
	"fmt"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/reference"
)

// Filter is the tracking policy closing every chain: a candidate must match
// the configured filter and the dependency's own predicate.
type Filter struct {
	filter apis.Filter
	match  func(apis.Reference) bool
}

var _ apis.TrackingInterceptor = (*Filter)(nil)

// NewFilter returns the sentinel policy. A nil filter or predicate accepts everything.
func NewFilter(f apis.Filter, match func(apis.Reference) bool) *Filter {
	return &Filter{filter: f, match: match}
}

// Name implements apis.Namer.
func (f *Filter) Name() string { return "filter" }

// LDAPFilter returns the configured filter, possibly nil.
func (f *Filter) LDAPFilter() apis.Filter { return f.filter }

// Open does nothing.
func (*Filter) Open(apis.DependencyContext) {}

// Close does nothing.
func (*Filter) Close(apis.DependencyContext) {}

// Accept implements apis.TrackingInterceptor.
func (f *Filter) Accept(_ apis.DependencyContext, _ apis.RegistryAccess, ref apis.TransformedReference) (apis.TransformedReference, bool) {
	if f.filter != nil && !f.filter.Match(ref) {
		return nil, false
	}
	if f.match != nil && !f.match(ref) {
		return nil, false
	}
	return ref, true
}

// AcceptFunc is the signature of a tracking decision.
type AcceptFunc func(dep apis.DependencyContext, reg apis.RegistryAccess, ref apis.TransformedReference) (apis.TransformedReference, bool)

// Tracking adapts an AcceptFunc to apis.TrackingInterceptor.
type Tracking struct {
	name   string
	accept AcceptFunc
}

var _ apis.TrackingInterceptor = (*Tracking)(nil)

// NewTracking returns a named tracking interceptor calling fn.
func NewTracking(name string, fn AcceptFunc) *Tracking {
	return &Tracking{name: name, accept: fn}
}

// Name implements apis.Namer.
func (t *Tracking) Name() string { return t.name }

// Open does nothing.
func (*Tracking) Open(apis.DependencyContext) {}

// Close does nothing.
func (*Tracking) Close(apis.DependencyContext) {}

// Accept implements apis.TrackingInterceptor.
func (t *Tracking) Accept(dep apis.DependencyContext, reg apis.RegistryAccess, ref apis.TransformedReference) (apis.TransformedReference, bool) {
	return t.accept(dep, reg, ref)
}

// NewReject returns a tracking interceptor hiding every candidate matching f.
func NewReject(name string, f apis.Filter) *Tracking {
	return NewTracking(name, func(_ apis.DependencyContext, _ apis.RegistryAccess, ref apis.TransformedReference) (apis.TransformedReference, bool) {
		if f.Match(ref) {
			return nil, false
		}
		return ref, true
	})
}

// NewOverlay returns a tracking interceptor adding props to every candidate.
// A nil value hides the property. Protected keys fail here, not per candidate.
func NewOverlay(name string, props map[string]any) (*Tracking, error) {
	for k := range props {
		if reference.IsProtected(k) {
			return nil, fmt.Errorf("%w: %s", reference.ErrIllegalOverride, k)
		}
	}
	fixed := make(map[string]any, len(props))
	for k, v := range props {
		fixed[k] = v
	}
	return NewTracking(name, func(_ apis.DependencyContext, _ apis.RegistryAccess, ref apis.TransformedReference) (apis.TransformedReference, bool) {
		for k, v := range fixed {
			if err := ref.AddProperty(k, v); err != nil {
				return ref, true
			}
		}
		return ref, true
	}), nil
}

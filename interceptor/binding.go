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
	"dirpx.dev/bindx/apis"
)

// GetServiceFunc decorates a bound service object.
type GetServiceFunc func(dep apis.DependencyContext, ref apis.Reference, svc any) (any, error)

// Binding adapts functions to apis.BindingInterceptor.
type Binding struct {
	name  string
	get   GetServiceFunc
	unget func(dep apis.DependencyContext, ref apis.Reference)
}

var _ apis.BindingInterceptor = (*Binding)(nil)

// NewBinding returns a named binding interceptor. unget may be nil.
func NewBinding(name string, get GetServiceFunc, unget func(apis.DependencyContext, apis.Reference)) *Binding {
	return &Binding{name: name, get: get, unget: unget}
}

// Name implements apis.Namer.
func (b *Binding) Name() string { return b.name }

// Open does nothing.
func (*Binding) Open(apis.DependencyContext) {}

// Close does nothing.
func (*Binding) Close(apis.DependencyContext) {}

// GetService implements apis.BindingInterceptor.
func (b *Binding) GetService(dep apis.DependencyContext, ref apis.Reference, svc any) (any, error) {
	return b.get(dep, ref, svc)
}

// UngetService implements apis.BindingInterceptor.
func (b *Binding) UngetService(dep apis.DependencyContext, ref apis.Reference) {
	if b.unget != nil {
		b.unget(dep, ref)
	}
}

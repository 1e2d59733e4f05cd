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

// Registry specifications under which interceptors may be published.
const (
	TrackingInterceptorSpec = "bindx.TrackingInterceptor"
	RankingInterceptorSpec  = "bindx.RankingInterceptor"
	BindingInterceptorSpec  = "bindx.BindingInterceptor"

	// TargetProperty holds the LDAP filter selecting the dependencies an
	// interceptor applies to.
	TargetProperty = "target"
)

// Namer is implemented by interceptors that want a readable name in logs
// and metrics.
type Namer interface {
	Name() string
}

// TrackingInterceptor decides whether and how a candidate is visible to a
// dependency. Accept runs under the dependency write lock and must not call
// back into the manager.
type TrackingInterceptor interface {
	Open(dep DependencyContext)
	// Accept returns the candidate, possibly transformed, or ok=false to reject it.
	Accept(dep DependencyContext, reg RegistryAccess, ref TransformedReference) (out TransformedReference, ok bool)
	Close(dep DependencyContext)
}

// RankingInterceptor selects and orders the winners among matching references.
// Every returned reference must come from matching.
type RankingInterceptor interface {
	Open(dep DependencyContext)
	ServiceReferences(dep DependencyContext, matching []Reference) []Reference
	OnServiceArrival(dep DependencyContext, matching []Reference, ref Reference) []Reference
	OnServiceDeparture(dep DependencyContext, matching []Reference, ref Reference) []Reference
	OnServiceModified(dep DependencyContext, matching []Reference, ref Reference) []Reference
	Close(dep DependencyContext)
}

// BindingInterceptor decorates the service object bound to a dependency.
type BindingInterceptor interface {
	Open(dep DependencyContext)
	// GetService returns the object to bind in place of svc. Returning nil
	// or an error keeps svc.
	GetService(dep DependencyContext, ref Reference, svc any) (any, error)
	UngetService(dep DependencyContext, ref Reference)
	Close(dep DependencyContext)
}

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

import "time"

// Config carries the knobs of a dependency and its manager.
// It is passed by value and treated as immutable.
type Config struct {
	// BindingPolicy selects how bindings follow the selection.
	BindingPolicy BindingPolicy `koanf:"binding_policy"`
	// Aggregate binds every selected service instead of the first one.
	Aggregate bool `koanf:"aggregate"`
	// Optional lets the dependency resolve with no service.
	Optional bool `koanf:"optional"`
	// Filter is an LDAP filter every candidate must satisfy.
	Filter string `koanf:"filter"`
	// TrackInterceptors makes managers discover interceptors in the registry.
	TrackInterceptors bool `koanf:"track_interceptors"`
	// FilterCacheTTL bounds how long compiled filters are reused.
	FilterCacheTTL time.Duration `koanf:"filter_cache_ttl"`
}

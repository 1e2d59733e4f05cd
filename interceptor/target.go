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
	"dirpx.dev/bindx/filter"
)

// Targets reports whether the interceptor published as ref applies to dep:
// its target property must be a filter matching the dependency properties.
// An interceptor without a target, or with an invalid one, applies to nothing.
func Targets(ref apis.Reference, dep apis.DependencyContext) bool {
	v, ok := ref.Property(apis.TargetProperty)
	if !ok {
		return false
	}
	expr, ok := v.(string)
	if !ok || expr == "" {
		return false
	}
	f, err := filter.Compile(expr)
	if err != nil || f == nil {
		return false
	}
	return f.MatchProperties(dep.Properties())
}

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

// Package bindx resolves service dependencies against a dynamic service
// registry.
//
// Services are published in an apis.Registry under one or more
// specifications with a set of properties. A dependency.Dependency tracks
// the services of one specification and keeps a selection of them: a
// manager.Manager filters the candidates through a chain of tracking
// interceptors, orders them with a ranking interceptor and decorates the
// service objects with binding interceptors. Interceptors may themselves be
// published in the registry with a "target" property, an LDAP filter matched
// against the dependency properties; they are picked up and dropped as they
// come and go.
//
// Every recomputation of the selection produces an apis.ChangeSet. The
// dependency turns it into bindings according to its binding policy
// (dynamic, static or dynamic-priority) and its cardinality, and reports
// arrivals, departures and modifications to its handler.
//
// # Global API
//
// The package keeps a process-wide snapshot holding the configuration, the
// registry, the builder and the logger. Reads are lock-free:
//
//	reg := bindx.Registry()
//	dep, err := bindx.NewDependency("svc.Clock", dependency.WithHandler(h))
//
// Writers (SetConfig, SetBuilder, SetRegistry, SetLogger, SetAll) take a
// short build lock, derive a new snapshot and publish it atomically.
// SetConfig and SetBuilder rebuild the registry through the builder, which
// migrates the published services, unless the registry is pinned. A
// registry installed with SetRegistry is pinned until UnpinRegistry.
// Dependencies keep the registry they were created with.
//
// # Configuration
//
// config.Load reads a YAML file with BINDX_ environment overrides:
//
//	binding_policy: dynamic-priority
//	aggregate: true
//	filter: (zone=eu)
package bindx

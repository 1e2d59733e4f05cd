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

// Tracker follows the population of services for one specification.
type Tracker interface {
	// References returns the tracked references. ok is false when the
	// tracker is not open.
	References() (refs []Reference, ok bool)
	// Service returns the service object of a tracked reference.
	Service(ref Reference) (any, bool)
	// UngetService releases a service obtained through Service.
	UngetService(ref Reference)
}

// Customizer is notified by a Tracker about the services it follows.
type Customizer interface {
	// AddingService decides whether ref should be tracked.
	AddingService(ref Reference) bool
	// AddedService is called after ref started being tracked.
	AddedService(ref Reference)
	// ModifiedService is called when a tracked service changed.
	ModifiedService(ref Reference, svc any)
	// RemovedService is called after ref stopped being tracked.
	RemovedService(ref Reference, svc any)
}

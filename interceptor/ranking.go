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
	"dirpx.dev/bindx/reference"
)

// Comparator is the ranking policy sorting the whole matching set with a
// comparator on every call.
type Comparator struct {
	cmp apis.Comparator
}

var _ apis.RankingInterceptor = (*Comparator)(nil)

// NewComparator returns a comparator ranking. A nil cmp sorts in natural
// order: best rank first, highest identity first among equal ranks.
func NewComparator(cmp apis.Comparator) *Comparator {
	if cmp == nil {
		cmp = reference.Preferred
	}
	return &Comparator{cmp: cmp}
}

// Name implements apis.Namer.
func (*Comparator) Name() string { return "comparator-ranking" }

// Open does nothing.
func (*Comparator) Open(apis.DependencyContext) {}

// Close does nothing.
func (*Comparator) Close(apis.DependencyContext) {}

// ServiceReferences implements apis.RankingInterceptor.
func (c *Comparator) ServiceReferences(_ apis.DependencyContext, matching []apis.Reference) []apis.Reference {
	return reference.Sort(matching, c.cmp)
}

// OnServiceArrival implements apis.RankingInterceptor.
func (c *Comparator) OnServiceArrival(_ apis.DependencyContext, matching []apis.Reference, _ apis.Reference) []apis.Reference {
	return reference.Sort(matching, c.cmp)
}

// OnServiceDeparture implements apis.RankingInterceptor.
func (c *Comparator) OnServiceDeparture(_ apis.DependencyContext, matching []apis.Reference, _ apis.Reference) []apis.Reference {
	return reference.Sort(matching, c.cmp)
}

// OnServiceModified implements apis.RankingInterceptor.
func (c *Comparator) OnServiceModified(_ apis.DependencyContext, matching []apis.Reference, _ apis.Reference) []apis.Reference {
	return reference.Sort(matching, c.cmp)
}

// Default is the ranking used when neither an interceptor nor a comparator
// is configured: the matching set in natural order.
type Default struct {
	Comparator
}

// NewDefault returns the default ranking.
func NewDefault() *Default {
	return &Default{Comparator: Comparator{cmp: reference.Preferred}}
}

// Name implements apis.Namer.
func (*Default) Name() string { return "default-ranking" }

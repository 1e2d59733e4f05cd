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

package manager

import "dirpx.dev/bindx/apis"

// matchingSet maps service identities to their accepted reference, keeping
// insertion order. Replacing an entry keeps its position.
type matchingSet struct {
	order []int64
	refs  map[int64]apis.Reference
}

func newMatchingSet() *matchingSet {
	return &matchingSet{refs: make(map[int64]apis.Reference)}
}

func (s *matchingSet) put(ref apis.Reference) {
	if _, ok := s.refs[ref.ID()]; !ok {
		s.order = append(s.order, ref.ID())
	}
	s.refs[ref.ID()] = ref
}

func (s *matchingSet) get(id int64) (apis.Reference, bool) {
	r, ok := s.refs[id]
	return r, ok
}

func (s *matchingSet) remove(id int64) (apis.Reference, bool) {
	r, ok := s.refs[id]
	if !ok {
		return nil, false
	}
	delete(s.refs, id)
	for i, x := range s.order {
		if x == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return r, true
}

func (s *matchingSet) len() int { return len(s.order) }

func (s *matchingSet) values() []apis.Reference {
	out := make([]apis.Reference, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.refs[id])
	}
	return out
}

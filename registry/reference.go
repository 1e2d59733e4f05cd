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

package registry

import (
	"fmt"
	"sort"
	"strings"

	"dirpx.dev/bindx/apis"
	uref "dirpx.dev/bindx/utils/reflect"
)

type prop struct {
	key   string
	value any
}

// serviceRef is an immutable snapshot of a published service.
type serviceRef struct {
	id    int64
	specs []string
	rank  int
	props map[string]prop // lower-cased key -> original key and value
	keys  []string
}

var _ apis.Reference = (*serviceRef)(nil)

func newServiceRef(id int64, specs []string, props map[string]any) (*serviceRef, error) {
	ref := &serviceRef{
		id:    id,
		specs: append([]string(nil), specs...),
		props: make(map[string]prop, len(props)+2),
	}
	for k, v := range props {
		lk := strings.ToLower(k)
		if lk == strings.ToLower(apis.ServiceID) || lk == strings.ToLower(apis.ObjectClass) {
			continue
		}
		if _, dup := ref.props[lk]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, k)
		}
		ref.props[lk] = prop{key: k, value: uref.Clone(v)}
	}
	ref.props[strings.ToLower(apis.ServiceID)] = prop{key: apis.ServiceID, value: id}
	ref.props[strings.ToLower(apis.ObjectClass)] = prop{key: apis.ObjectClass, value: append([]string(nil), specs...)}
	if p, ok := ref.props[strings.ToLower(apis.ServiceRanking)]; ok {
		ref.rank = uref.Rank(p.value)
	}
	for _, p := range ref.props {
		ref.keys = append(ref.keys, p.key)
	}
	sort.Strings(ref.keys)
	return ref, nil
}

func (s *serviceRef) ID() int64 { return s.id }

func (s *serviceRef) Ranking() int { return s.rank }

func (s *serviceRef) Property(key string) (any, bool) {
	p, ok := s.props[strings.ToLower(key)]
	return p.value, ok
}

func (s *serviceRef) PropertyKeys() []string { return append([]string(nil), s.keys...) }

func (s *serviceRef) Specifications() []string { return append([]string(nil), s.specs...) }

func (s *serviceRef) publishes(spec string) bool {
	for _, x := range s.specs {
		if x == spec {
			return true
		}
	}
	return false
}

func (s *serviceRef) String() string {
	return fmt.Sprintf("service(id=%d, rank=%d, specs=%v)", s.id, s.rank, s.specs)
}

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

package reference_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/reference"
	uref "dirpx.dev/bindx/utils/reflect"
)

// published is a minimal immutable apis.Reference for tests.
type published struct {
	id    int64
	props map[string]any
}

func pub(id int64, rank int, kv ...any) published {
	p := published{id: id, props: map[string]any{
		apis.ServiceID:      id,
		apis.ObjectClass:    []string{"test.Service"},
		apis.ServiceRanking: rank,
	}}
	for i := 0; i+1 < len(kv); i += 2 {
		p.props[kv[i].(string)] = kv[i+1]
	}
	return p
}

func (p published) ID() int64 { return p.id }
func (p published) Ranking() int {
	v, _ := p.Property(apis.ServiceRanking)
	return uref.Rank(v)
}
func (p published) Property(key string) (any, bool) {
	for k, v := range p.props {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
func (p published) PropertyKeys() []string {
	keys := make([]string, 0, len(p.props))
	for k := range p.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
func (p published) Specifications() []string { return []string{"test.Service"} }

func TestProtectedKeys_IllegalOverride(t *testing.T) {
	tr := reference.New(pub(10, 0))
	for _, k := range []string{apis.ServiceID, "SERVICE.ID", apis.ObjectClass, apis.ServiceRanking} {
		err := tr.AddProperty(k, 42)
		require.ErrorIs(t, err, reference.ErrIllegalOverride, k)
		require.ErrorIs(t, tr.RemoveProperty(k), reference.ErrIllegalOverride, k)
		require.ErrorIs(t, tr.AddPropertyIfAbsent(k, 1), reference.ErrIllegalOverride, k)
	}
	// Still refused after other writes.
	require.NoError(t, tr.AddProperty("foo", "bar"))
	require.ErrorIs(t, tr.AddProperty(apis.ServiceID, 42), reference.ErrIllegalOverride)
	v, _ := tr.Property(apis.ServiceID)
	assert.Equal(t, int64(10), v)
}

func TestOverlay_ShadowsAndHides(t *testing.T) {
	tr := reference.New(pub(1, 0, "toto", "A", "Color", "red"))

	require.NoError(t, tr.AddProperty("toto", "B"))
	v, ok := tr.Property("TOTO")
	require.True(t, ok)
	assert.Equal(t, "B", v)

	require.NoError(t, tr.AddPropertyIfAbsent("color", "blue"))
	v, _ = tr.Property("color")
	assert.Equal(t, "red", v)

	require.NoError(t, tr.RemoveProperty("color"))
	assert.False(t, tr.Contains("color"))
	assert.NotContains(t, tr.PropertyKeys(), "Color")

	require.NoError(t, tr.AddPropertyIfAbsent("color", "blue"))
	v, _ = tr.Property("color")
	assert.Equal(t, "blue", v)

	require.NoError(t, tr.AddProperty("gone", nil))
	assert.False(t, tr.Contains("gone"))
}

func TestFreeze(t *testing.T) {
	tr := reference.New(pub(1, 0))
	tr.Freeze()
	require.ErrorIs(t, tr.AddProperty("x", 1), reference.ErrFrozen)
	require.ErrorIs(t, tr.AddProperty(apis.ServiceID, 1), reference.ErrIllegalOverride)
}

func TestNew_FromTransformedKeepsWrappedAndOverlay(t *testing.T) {
	p := pub(3, 0)
	first := reference.New(p)
	require.NoError(t, first.AddProperty("x", 1))

	second := reference.New(first)
	assert.Equal(t, p, second.Wrapped())
	v, ok := second.Property("x")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestOverlay_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		key := rapid.StringMatching(`[a-z][a-z0-9.]{0,10}`).Filter(func(s string) bool {
			return !reference.IsProtected(s)
		}).Draw(rt, "key")
		val := rapid.OneOf(
			rapid.Map(rapid.Int(), func(i int) any { return i }),
			rapid.Map(rapid.String(), func(s string) any { return s }),
		).Draw(rt, "value")

		tr := reference.New(pub(1, 0, "base", "x"))
		if err := tr.AddProperty(key, val); err != nil {
			rt.Fatalf("AddProperty(%q): %v", key, err)
		}
		got, ok := tr.Property(key)
		if !ok || got != val {
			rt.Fatalf("Property(%q) = %v, %v; want %v", key, got, ok, val)
		}
		if !containsFold(tr.PropertyKeys(), key) {
			rt.Fatalf("PropertyKeys() = %v, missing %q", tr.PropertyKeys(), key)
		}
		if err := tr.RemoveProperty(key); err != nil {
			rt.Fatalf("RemoveProperty(%q): %v", key, err)
		}
		if tr.Contains(key) || containsFold(tr.PropertyKeys(), key) {
			rt.Fatalf("%q still visible after removal", key)
		}
	})
}

func containsFold(keys []string, k string) bool {
	for _, s := range keys {
		if strings.EqualFold(s, k) {
			return true
		}
	}
	return false
}

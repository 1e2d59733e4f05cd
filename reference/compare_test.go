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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/reference"
)

func TestCompare_SameIdentityIgnoresOverlay(t *testing.T) {
	a := reference.New(pub(7, 0))
	b := reference.New(pub(7, 0))
	require.NoError(t, b.AddProperty("extra", true))
	assert.Equal(t, 0, reference.Compare(a, b))
}

func TestCompare_RankThenIdentity(t *testing.T) {
	low := pub(1, 0)
	high := pub(2, 5)
	assert.Equal(t, -1, reference.Compare(low, high))
	assert.Equal(t, 1, reference.Compare(high, low))

	older, newer := pub(10, 3), pub(11, 3)
	assert.Equal(t, -1, reference.Compare(newer, older))
}

func TestSort_Preferred(t *testing.T) {
	s1 := pub(10, 0)
	s2 := pub(11, 5)
	s3 := pub(12, 0)
	got := reference.Sort([]apis.Reference{s1, s2, s3}, nil)
	assert.Equal(t, []int64{11, 12, 10}, ids(got))
}

func TestSort_EqualRankHigherIdentityFirst(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rank := rapid.IntRange(-10, 10).Draw(rt, "rank")
		a := rapid.Int64Range(1, 1000).Draw(rt, "a")
		b := rapid.Int64Range(1, 1000).Filter(func(v int64) bool { return v != a }).Draw(rt, "b")

		got := reference.Sort([]apis.Reference{pub(a, rank), pub(b, rank)}, nil)
		if got[0].ID() != max(a, b) {
			rt.Fatalf("ids %v: higher identity must sort first", ids(got))
		}
	})
}

func TestDiff_ByIdentity(t *testing.T) {
	s1, s2, s3 := pub(1, 0), pub(2, 0), pub(3, 0)
	// A re-wrapped S2 with an overlay must not show up as a departure/arrival pair.
	s2b := reference.New(s2)
	require.NoError(t, s2b.AddProperty("x", 1))

	dep, arr := reference.Diff([]apis.Reference{s1, s2}, []apis.Reference{s2b, s3})
	assert.Equal(t, []int64{1}, ids(dep))
	assert.Equal(t, []int64{3}, ids(arr))

	dep, arr = reference.Diff([]apis.Reference{s1, s2}, []apis.Reference{s1, s2})
	assert.Empty(t, dep)
	assert.Empty(t, arr)
}

func TestSameProperties(t *testing.T) {
	a := reference.New(pub(1, 0, "tags", []string{"x", "y"}))
	b := reference.New(pub(1, 0, "TAGS", []any{"x", "y"}))
	assert.True(t, reference.SameProperties(a, b))

	require.NoError(t, b.AddProperty("tags", []string{"y", "x"}))
	assert.False(t, reference.SameProperties(a, b))

	c := reference.New(pub(1, 0, "tags", []string{"x", "y"}))
	require.NoError(t, c.AddProperty("more", 1))
	assert.False(t, reference.SameProperties(a, c))
}

func TestSameIDAndIndexOf(t *testing.T) {
	assert.True(t, reference.SameID(nil, nil))
	assert.False(t, reference.SameID(pub(1, 0), nil))
	assert.True(t, reference.SameID(pub(1, 0), reference.New(pub(1, 9))))
	assert.Equal(t, 1, reference.IndexOf([]apis.Reference{pub(1, 0), pub(2, 0)}, 2))
	assert.Equal(t, -1, reference.IndexOf(nil, 2))
}

func ids(refs []apis.Reference) []int64 {
	out := make([]int64, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID())
	}
	return out
}

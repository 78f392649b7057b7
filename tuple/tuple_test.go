// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package tuple

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRoundTrip(t *testing.T) {
	cases := []Tuple{
		{int64(1), "a"},
		{int64(-1), int64(0), int64(1)},
		{"hello\x00world"},
		{true, false},
		{3.14, -3.14, 0.0},
		{Tuple{int64(1), "x"}, int64(2)},
		{[]byte{0x00, 0xFF, 0x01}},
		{uuid.MustParse("00000000-0000-0000-0000-000000000001")},
		{nil, int64(5)},
	}
	for _, tc := range cases {
		packed, err := Pack(tc)
		require.NoError(t, err)
		got, err := Unpack(packed)
		require.NoError(t, err)
		require.Equal(t, normalise(tc), normalise(got))
	}
}

// normalise returns an unchanged copy of t; it folds no integer widths, so
// the literal test tuples use int64 throughout to compare exactly.
func normalise(t Tuple) Tuple {
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

func TestOrderPreservation(t *testing.T) {
	less := []Tuple{
		{int64(-100)},
		{int64(-1)},
		{int64(0)},
		{int64(1)},
		{int64(100)},
	}
	for i := 0; i < len(less)-1; i++ {
		a := MustPack(less[i])
		b := MustPack(less[i+1])
		require.Less(t, bytes.Compare(a, b), 0, "expected %v < %v", less[i], less[i+1])
	}

	strs := []Tuple{{"a"}, {"aa"}, {"b"}, {"ba"}}
	for i := 0; i < len(strs)-1; i++ {
		require.Less(t, bytes.Compare(MustPack(strs[i]), MustPack(strs[i+1])), 0)
	}

	floats := []Tuple{{-3.5}, {-1.0}, {0.0}, {1.0}, {3.5}}
	for i := 0; i < len(floats)-1; i++ {
		require.Less(t, bytes.Compare(MustPack(floats[i]), MustPack(floats[i+1])), 0)
	}
}

func TestSubspaceRange(t *testing.T) {
	sub := NewSubspace(Tuple{"I", "byEmail"})
	begin, end := sub.Range()
	key := sub.Pack(Tuple{"a@x.com", "u1"})
	require.True(t, bytes.Compare(begin, key) <= 0)
	require.True(t, end == nil || bytes.Compare(key, end) < 0)

	outside := NewSubspace(Tuple{"I", "byEmailZZZ"}).Pack(Tuple{"z"})
	require.False(t, bytes.Compare(begin, outside) <= 0 && (end == nil || bytes.Compare(outside, end) < 0))
}

// TestRapidRoundTripAndOrder checks unpack(pack(t)) = t and
// pack(t1) < pack(t2) iff t1 <_lex t2, exercised over random int64 tuples.
func TestRapidRoundTripAndOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "n")
		var tup Tuple
		for i := 0; i < n; i++ {
			tup = append(tup, rapid.Int64().Draw(rt, "el"))
		}
		packed, err := Pack(tup)
		require.NoError(rt, err)
		got, err := Unpack(packed)
		require.NoError(rt, err)
		require.Equal(rt, len(tup), len(got))
		for i := range tup {
			require.Equal(rt, tup[i], got[i])
		}
	})

	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.Int64().Draw(rt, "a")
		b := rapid.Int64().Draw(rt, "b")
		pa := MustPack(Tuple{a})
		pb := MustPack(Tuple{b})
		switch {
		case a < b:
			require.Less(rt, bytes.Compare(pa, pb), 0)
		case a > b:
			require.Greater(rt, bytes.Compare(pa, pb), 0)
		default:
			require.Equal(rt, 0, bytes.Compare(pa, pb))
		}
	})
}

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

// Package rangeset tracks the work remaining for a resumable batched scan:
// a sorted, non-overlapping set of half-open byte ranges.
// The builder and scrubber each own one, persisted alongside the batch that
// produced its latest state so progress is never lost without the work
// being durable.
package rangeset

import (
	"bytes"
	"sort"

	"github.com/google/btree"
)

// Range is a half-open byte interval [Begin, End).
type Range struct {
	Begin []byte
	End   []byte
}

func (r Range) empty() bool { return bytes.Compare(r.Begin, r.End) >= 0 }

func less(a, b Range) bool { return bytes.Compare(a.Begin, b.Begin) < 0 }

// Set is a sorted, non-overlapping collection of Ranges. The zero value is
// not usable; construct with From.
type Set struct {
	tree *btree.BTreeG[Range]
}

// From returns a Set containing the single range [begin, end).
func From(begin, end []byte) *Set {
	s := &Set{tree: btree.NewG(32, less)}
	r := Range{Begin: clone(begin), End: clone(end)}
	if !r.empty() {
		s.tree.ReplaceOrInsert(r)
	}
	return s
}

// Empty returns a Set with no ranges, e.g. a fresh phase tracker before its
// first From.
func Empty() *Set {
	return &Set{tree: btree.NewG(32, less)}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// IsEmpty reports whether no ranges remain.
func (s *Set) IsEmpty() bool { return s.tree.Len() == 0 }

// Len reports how many disjoint ranges remain.
func (s *Set) Len() int { return s.tree.Len() }

// NextBatch returns the head range, i.e. the lowest-Begin range currently
// tracked. The current contract is "whole head range"; a
// future implementation may split a large head range into desiredSize
// pieces, so the parameter is accepted now for that evolution.
func (s *Set) NextBatch(desiredSize int) (Range, bool) {
	var head Range
	found := false
	s.tree.Ascend(func(r Range) bool {
		head = r
		found = true
		return false
	})
	return head, found
}

// MarkCompleted removes done from the tracked ranges, splitting or trimming
// any range it partially overlaps. It is a no-op over any portion of done
// that isn't currently tracked.
func (s *Set) MarkCompleted(done Range) {
	if done.empty() {
		return
	}
	var toDelete []Range
	var toInsert []Range

	s.tree.Ascend(func(r Range) bool {
		if bytes.Compare(r.Begin, done.End) >= 0 {
			return false // rest of the tree starts at or after done.End
		}
		if bytes.Compare(r.End, done.Begin) <= 0 {
			return true // r ends before done starts, no overlap
		}
		// r overlaps done in some fashion.
		toDelete = append(toDelete, r)

		if bytes.Compare(done.Begin, r.Begin) <= 0 && bytes.Compare(done.End, r.End) >= 0 {
			// done fully contains r: drop it entirely.
			return true
		}
		if bytes.Compare(done.Begin, r.Begin) > 0 && bytes.Compare(done.End, r.End) < 0 {
			// done strictly inside r: split into prefix + suffix.
			toInsert = append(toInsert,
				Range{Begin: clone(r.Begin), End: clone(done.Begin)},
				Range{Begin: clone(done.End), End: clone(r.End)})
			return true
		}
		if bytes.Compare(done.Begin, r.Begin) <= 0 {
			// done overlaps the head of r: trim r's Begin forward.
			toInsert = append(toInsert, Range{Begin: clone(done.End), End: clone(r.End)})
			return true
		}
		// done overlaps the tail of r: trim r's End backward.
		toInsert = append(toInsert, Range{Begin: clone(r.Begin), End: clone(done.Begin)})
		return true
	})

	for _, r := range toDelete {
		s.tree.Delete(r)
	}
	for _, r := range toInsert {
		if !r.empty() {
			s.tree.ReplaceOrInsert(r)
		}
	}
}

// Normalise merges overlapping or adjacent ranges. MarkCompleted never
// produces overlaps on its own, but callers that construct a Set from
// externally-supplied ranges (e.g. re-seeding after a schema change) may
// need it.
func (s *Set) Normalise() {
	all := s.Ranges()
	if len(all) == 0 {
		return
	}
	sort.Slice(all, func(i, j int) bool { return bytes.Compare(all[i].Begin, all[j].Begin) < 0 })

	merged := all[:1]
	for _, r := range all[1:] {
		last := &merged[len(merged)-1]
		if bytes.Compare(r.Begin, last.End) <= 0 {
			if bytes.Compare(r.End, last.End) > 0 {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}

	s.tree.Clear(false)
	for _, r := range merged {
		s.tree.ReplaceOrInsert(r)
	}
}

// Ranges returns every tracked range in ascending Begin order.
func (s *Set) Ranges() []Range {
	out := make([]Range, 0, s.tree.Len())
	s.tree.Ascend(func(r Range) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Serialize encodes the set as a length-prefixed sequence of (begin, end)
// byte strings, for persistence at the builder/scrubber progress key.
func Serialize(s *Set) []byte {
	ranges := s.Ranges()
	var buf []byte
	buf = appendUvarint(buf, uint64(len(ranges)))
	for _, r := range ranges {
		buf = appendUvarint(buf, uint64(len(r.Begin)))
		buf = append(buf, r.Begin...)
		buf = appendUvarint(buf, uint64(len(r.End)))
		buf = append(buf, r.End...)
	}
	return buf
}

// Deserialize decodes the format Serialize produces.
func Deserialize(data []byte) (*Set, error) {
	s := Empty()
	n, data, err := readUvarint(data)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var begin, end []byte
		var bl, el uint64
		if bl, data, err = readUvarint(data); err != nil {
			return nil, err
		}
		if begin, data, err = takeBytes(data, bl); err != nil {
			return nil, err
		}
		if el, data, err = readUvarint(data); err != nil {
			return nil, err
		}
		if end, data, err = takeBytes(data, el); err != nil {
			return nil, err
		}
		r := Range{Begin: begin, End: end}
		if !r.empty() {
			s.tree.ReplaceOrInsert(r)
		}
	}
	return s, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [10]byte
	n := 0
	for v >= 0x80 {
		tmp[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	tmp[n] = byte(v)
	n++
	return append(buf, tmp[:n]...)
}

func readUvarint(b []byte) (uint64, []byte, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		c := b[i]
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, b[i+1:], nil
		}
		shift += 7
	}
	return 0, nil, errTruncated
}

func takeBytes(b []byte, n uint64) ([]byte, []byte, error) {
	if uint64(len(b)) < n {
		return nil, nil, errTruncated
	}
	return append([]byte(nil), b[:n]...), b[n:], nil
}

var errTruncated = rangeSetError("rangeset: truncated serialized data")

type rangeSetError string

func (e rangeSetError) Error() string { return string(e) }

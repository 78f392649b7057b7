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

// Subspace is a key prefix formed by packing a prefix tuple. All keys under
// a Subspace share that packed prefix, so a Subspace's Range covers exactly
// the keys whose prefix matches.
type Subspace struct {
	prefix []byte
}

// NewSubspace packs t and returns the Subspace rooted at the result.
func NewSubspace(t Tuple) Subspace {
	return Subspace{prefix: MustPack(t)}
}

// Sub returns a child subspace extending this one with t.
func (s Subspace) Sub(t Tuple) Subspace {
	child := make([]byte, 0, len(s.prefix)+32)
	child = append(child, s.prefix...)
	child = append(child, MustPack(t)...)
	return Subspace{prefix: child}
}

// Bytes returns the raw prefix bytes.
func (s Subspace) Bytes() []byte { return s.prefix }

// Pack packs t and prefixes it with the subspace's bytes.
func (s Subspace) Pack(t Tuple) []byte {
	packed := MustPack(t)
	out := make([]byte, 0, len(s.prefix)+len(packed))
	out = append(out, s.prefix...)
	out = append(out, packed...)
	return out
}

// Unpack strips the subspace prefix from key and unpacks the remainder. It
// fails if key does not begin with the subspace's prefix.
func (s Subspace) Unpack(key []byte) (Tuple, error) {
	if len(key) < len(s.prefix) {
		return nil, errPrefixMismatch
	}
	for i := range s.prefix {
		if key[i] != s.prefix[i] {
			return nil, errPrefixMismatch
		}
	}
	return Unpack(key[len(s.prefix):])
}

// Range returns the half-open [begin, end) byte range covering every key
// whose prefix matches this subspace.
func (s Subspace) Range() (begin, end []byte) {
	begin = append([]byte(nil), s.prefix...)
	end = Strinc(s.prefix)
	return begin, end
}

// Strinc returns the smallest byte string that is strictly greater than
// every byte string with prefix b, i.e. the exclusive end key of a prefix
// range scan. It increments the last byte that isn't already 0xFF and
// truncates any trailing 0xFF bytes; an all-0xFF prefix has no successor and
// Strinc returns nil, meaning "end of keyspace".
func Strinc(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

var errPrefixMismatch = &prefixMismatchError{}

type prefixMismatchError struct{}

func (*prefixMismatchError) Error() string { return "tuple: key does not match subspace prefix" }

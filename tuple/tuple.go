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

// Package tuple implements an order-preserving byte encoding of typed
// element sequences: encoded-byte order equals element
// order, numerics by value, strings by UTF-8, tuples lexicographically,
// nulls lowest.
package tuple

import (
	"bytes"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// typeCode orders the wire encoding of each element kind. Relative ordering
// here only matters between different Go types holding the same element;
// within one type, the payload encoding itself carries the order.
type typeCode byte

const (
	codeNull  typeCode = 0x00
	codeBytes typeCode = 0x01
	codeStr   typeCode = 0x02
	codeNeg   typeCode = 0x0b // negative int64, bias-encoded
	codeInt   typeCode = 0x0c // non-negative int64
	codeFloat typeCode = 0x20
	codeFalse typeCode = 0x26
	codeTrue  typeCode = 0x27
	codeUUID  typeCode = 0x30
	codeTuple typeCode = 0x05
)

// Element is any Go value packable into a Tuple.
type Element any

// Tuple is an ordered sequence of typed elements.
type Tuple []Element

// Pack encodes t into its order-preserving byte representation.
func Pack(t Tuple) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range t {
		if err := packElement(&buf, e); err != nil {
			return nil, fmt.Errorf("tuple: pack element %#v: %w", e, err)
		}
	}
	return buf.Bytes(), nil
}

// MustPack is Pack but panics on error; used for key construction where the
// element types are known to be valid ahead of time.
func MustPack(t Tuple) []byte {
	b, err := Pack(t)
	if err != nil {
		panic(err)
	}
	return b
}

func packElement(buf *bytes.Buffer, e Element) error {
	switch v := e.(type) {
	case nil:
		buf.WriteByte(byte(codeNull))
	case []byte:
		buf.WriteByte(byte(codeBytes))
		packEscapedBytes(buf, v)
	case string:
		buf.WriteByte(byte(codeStr))
		packEscapedBytes(buf, []byte(v))
	case bool:
		if v {
			buf.WriteByte(byte(codeTrue))
		} else {
			buf.WriteByte(byte(codeFalse))
		}
	case int:
		return packInt(buf, int64(v))
	case int32:
		return packInt(buf, int64(v))
	case int64:
		return packInt(buf, v)
	case uint:
		return packInt(buf, int64(v))
	case uint32:
		return packInt(buf, int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return fmt.Errorf("uint64 %d overflows int64 tuple element", v)
		}
		return packInt(buf, int64(v))
	case float32:
		packFloat(buf, float64(v))
	case float64:
		packFloat(buf, v)
	case uuid.UUID:
		buf.WriteByte(byte(codeUUID))
		buf.Write(v[:])
	case Tuple:
		nested, err := Pack(v)
		if err != nil {
			return err
		}
		buf.WriteByte(byte(codeTuple))
		packEscapedBytes(buf, nested)
	default:
		return fmt.Errorf("unsupported tuple element type %T", e)
	}
	return nil
}

// packEscapedBytes writes raw bytes with 0x00 escaped as 0x00 0xFF and
// terminated by 0x00 0x00, so byte-string comparison of the packed form
// matches byte comparison of the unescaped payload and nested tuples remain
// self-delimiting.
func packEscapedBytes(buf *bytes.Buffer, raw []byte) {
	for _, b := range raw {
		buf.WriteByte(b)
		if b == 0x00 {
			buf.WriteByte(0xFF)
		}
	}
	buf.WriteByte(0x00)
	buf.WriteByte(0x00)
}

// packInt encodes a signed 64-bit integer so that byte order equals integer
// order: the value is written big-endian with its sign bit flipped (a bias
// of 2^63) for both signs, and negative values carry codeNeg, which sorts
// before codeInt, so a more negative number sorts before a less negative one.
func packInt(buf *bytes.Buffer, v int64) error {
	if v >= 0 {
		buf.WriteByte(byte(codeInt))
		var b [8]byte
		u := uint64(v) ^ (uint64(1) << 63)
		putUint64BE(b[:], u)
		buf.Write(b[:])
		return nil
	}
	buf.WriteByte(byte(codeNeg))
	var b [8]byte
	u := uint64(v) ^ (uint64(1) << 63)
	putUint64BE(b[:], u)
	buf.Write(b[:])
	return nil
}

// packFloat encodes an IEEE-754 double so that byte order equals float
// order: flip the sign bit for non-negatives, invert all bits for negatives.
func packFloat(buf *bytes.Buffer, v float64) {
	buf.WriteByte(byte(codeFloat))
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var b [8]byte
	putUint64BE(b[:], bits)
	buf.Write(b[:])
}

func putUint64BE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// Unpack decodes a packed byte sequence back into a Tuple. unpack∘pack is
// the identity for every Tuple Pack can produce.
func Unpack(b []byte) (Tuple, error) {
	var out Tuple
	for len(b) > 0 {
		e, rest, err := unpackOne(b)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		b = rest
	}
	return out, nil
}

func unpackOne(b []byte) (Element, []byte, error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("tuple: unexpected end of input")
	}
	code := typeCode(b[0])
	b = b[1:]
	switch code {
	case codeNull:
		return nil, b, nil
	case codeBytes:
		raw, rest, err := unescapeBytes(b)
		if err != nil {
			return nil, nil, err
		}
		return raw, rest, nil
	case codeStr:
		raw, rest, err := unescapeBytes(b)
		if err != nil {
			return nil, nil, err
		}
		return string(raw), rest, nil
	case codeFalse:
		return false, b, nil
	case codeTrue:
		return true, b, nil
	case codeInt, codeNeg:
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("tuple: truncated integer")
		}
		u := getUint64BE(b[:8])
		v := int64(u ^ (uint64(1) << 63))
		return v, b[8:], nil
	case codeFloat:
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("tuple: truncated float")
		}
		bits := getUint64BE(b[:8])
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), b[8:], nil
	case codeUUID:
		if len(b) < 16 {
			return nil, nil, fmt.Errorf("tuple: truncated uuid")
		}
		var u uuid.UUID
		copy(u[:], b[:16])
		return u, b[16:], nil
	case codeTuple:
		raw, rest, err := unescapeBytes(b)
		if err != nil {
			return nil, nil, err
		}
		nested, err := Unpack(raw)
		if err != nil {
			return nil, nil, err
		}
		return Tuple(nested), rest, nil
	default:
		return nil, nil, fmt.Errorf("tuple: unknown type code %#x", code)
	}
}

func unescapeBytes(b []byte) (raw []byte, rest []byte, err error) {
	for i := 0; i < len(b); i++ {
		if b[i] == 0x00 {
			if i+1 >= len(b) {
				return nil, nil, fmt.Errorf("tuple: truncated escaped byte string")
			}
			if b[i+1] == 0x00 {
				return raw, b[i+2:], nil
			}
			if b[i+1] == 0xFF {
				raw = append(raw, 0x00)
				i++
				continue
			}
			return nil, nil, fmt.Errorf("tuple: invalid escape sequence")
		}
		raw = append(raw, b[i])
	}
	return nil, nil, fmt.Errorf("tuple: unterminated byte string")
}

func getUint64BE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Compare returns -1, 0, or 1 according to the byte order of Pack(a) versus
// Pack(b). It packs both tuples on every call and panics if either holds an
// element Pack rejects.
func Compare(a, b Tuple) int {
	pa, errA := Pack(a)
	pb, errB := Pack(b)
	if errA != nil || errB != nil {
		panic("tuple: Compare called with unpackable element")
	}
	return bytes.Compare(pa, pb)
}

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

// Package dataaccess is the pure-function layer extracting
// tuple elements from records and serialising/deserialising them. Records
// are plain Go structs; field metadata is assumed available (the
// macro/reflection mechanism that produces it is out of scope), so this
// package reads it via reflect and struct tags rather than a generated
// accessor.
package dataaccess

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/erigontech/reclayer/keyexpr"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/tuple"
	"github.com/google/uuid"
)

// FieldTag is the struct tag read to resolve an Entity's field name when it
// differs from the Go field name, e.g. `recidx:"email"`.
const FieldTag = "recidx"

// ExtractField extracts the tuple elements addressed by a dot-notation path.
// A compound path ("address.city") descends through nested structs/pointers;
// an index segment enclosed in brackets ("tags[0]") indexes a slice.
func ExtractField(record any, path string) (tuple.Tuple, error) {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return tuple.Tuple{nil}, nil
		}
		v = v.Elem()
	}
	segs := strings.Split(path, ".")
	cur := v
	for i, seg := range segs {
		name, idx, hasIdx := parseSegment(seg)
		next, err := fieldByName(cur, name)
		if err != nil {
			return nil, rerr.Wrap(rerr.FieldNotFound, err, "path %q", path)
		}
		for next.Kind() == reflect.Ptr {
			if next.IsNil() {
				return tuple.Tuple{nil}, nil
			}
			next = next.Elem()
		}
		if hasIdx {
			if next.Kind() != reflect.Slice && next.Kind() != reflect.Array {
				return nil, rerr.New(rerr.NestedFieldUnsupported, "path %q: segment %q is not indexable", path, seg)
			}
			if idx < 0 || idx >= next.Len() {
				return nil, rerr.New(rerr.FieldNotFound, "path %q: index %d out of range", path, idx)
			}
			next = next.Index(idx)
			for next.Kind() == reflect.Ptr {
				next = next.Elem()
			}
		}
		cur = next
		if i < len(segs)-1 {
			switch cur.Kind() {
			case reflect.Struct, reflect.Map:
				// descend further
			default:
				return nil, rerr.New(rerr.NestedFieldUnsupported, "path %q: segment %q is not a nestable structure", path, seg)
			}
		}
	}
	el, err := toElement(cur)
	if err != nil {
		return nil, err
	}
	return tuple.Tuple{el}, nil
}

func parseSegment(seg string) (name string, idx int, hasIdx bool) {
	if i := strings.IndexByte(seg, '['); i >= 0 && strings.HasSuffix(seg, "]") {
		name = seg[:i]
		n, err := strconv.Atoi(seg[i+1 : len(seg)-1])
		if err == nil {
			return name, n, true
		}
	}
	return seg, 0, false
}

func fieldByName(v reflect.Value, name string) (reflect.Value, error) {
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tag := f.Tag.Get(FieldTag)
			if tag == name || (tag == "" && strings.EqualFold(f.Name, name)) {
				return v.Field(i), nil
			}
		}
		return reflect.Value{}, fmt.Errorf("no field %q on struct %s", name, t.Name())
	case reflect.Map:
		mv := v.MapIndex(reflect.ValueOf(name))
		if !mv.IsValid() {
			return reflect.Value{}, fmt.Errorf("no key %q in map", name)
		}
		return mv, nil
	default:
		return reflect.Value{}, fmt.Errorf("cannot resolve field %q on kind %s", name, v.Kind())
	}
}

// toElement converts a reflect.Value holding a Go primitive, enum, or blob
// into the canonical tuple.Element: all integer widths fold to
// int64, all floating widths to double, byte-arrays/blobs to bytes, UUID to
// its byte representation, enums to their case name, and anything else
// (last resort) to its printable form.
func toElement(v reflect.Value) (tuple.Element, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Type() == reflect.TypeOf(uuid.UUID{}) {
		return v.Interface().(uuid.UUID), nil
	}
	if v.Type() == reflect.TypeOf(time.Time{}) {
		// Folded to nanosecond epoch so pack/Compare order matches
		// chronological order; query's normalize folds the query's own
		// time.Time literals the same way.
		return v.Interface().(time.Time).UnixNano(), nil
	}
	if stringer, ok := v.Interface().(fmt.Stringer); ok && v.Kind() != reflect.Slice && isEnumLike(v) {
		return stringer.String(), nil
	}
	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes(), nil
		}
		return fmt.Sprintf("%v", v.Interface()), nil
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			return b, nil
		}
		return fmt.Sprintf("%v", v.Interface()), nil
	default:
		// Last resort: lossy printable form.
		return fmt.Sprintf("%v", v.Interface()), nil
	}
}

// isEnumLike reports whether v's kind is an integer or string, the
// underlying representation enum case types typically use.
func isEnumLike(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.String:
		return true
	default:
		return false
	}
}

// Evaluate runs the key-expression visitor against record, producing the
// tuple elements the expression selects.
func Evaluate(record any, e keyexpr.Expr) (tuple.Tuple, error) {
	switch v := e.(type) {
	case keyexpr.Field:
		return ExtractField(record, v.Path)
	case keyexpr.Nest:
		return Evaluate(record, v.Compile())
	case keyexpr.Concatenate:
		var out tuple.Tuple
		for _, child := range v.Exprs {
			t, err := Evaluate(record, child)
			if err != nil {
				return nil, err
			}
			out = append(out, t...)
		}
		return out, nil
	case keyexpr.Literal:
		return v.Value, nil
	case keyexpr.Empty:
		return tuple.Tuple{}, nil
	case keyexpr.RangeBoundary:
		// Range-boundary extraction is an optional capability; the core
		// visitor refuses it. Maintainers that want it must special-case
		// the expression before calling Evaluate.
		return nil, rerr.New(rerr.NestedFieldUnsupported, "range boundary extraction is not supported by the default visitor")
	default:
		return nil, rerr.New(rerr.NestedFieldUnsupported, "unknown key expression %T", e)
	}
}

// ExtractID extracts the identity tuple for record using idExpression. Ids
// are always a single tuple, possibly itself composite (a Concatenate of
// several fields represents a composite primary key).
func ExtractID(record any, idExpression keyexpr.Expr) (tuple.Tuple, error) {
	return Evaluate(record, idExpression)
}

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

// Package indexkind is the registry of built-in IndexKinds:
// scalar, count, sum, min, max, version. Each kind validates the types its
// key expression produces and manufactures a schema.IndexMaintainer bound to
// one descriptor's subspace.
package indexkind

import (
	"reflect"

	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
)

// Registry maps identifiers to the built-in kinds, for config-driven
// construction (e.g. from a TOML descriptor naming "scalar" or "count").
var Registry = map[string]schema.IndexKind{
	ScalarKind.Identifier():  ScalarKind,
	CountKind.Identifier():   CountKind,
	SumKind.Identifier():     SumKind,
	MinKind.Identifier():     MinKind,
	MaxKind.Identifier():     MaxKind,
	VersionKind.Identifier(): VersionKind,
}

// Lookup returns the registered kind for identifier.
func Lookup(identifier string) (schema.IndexKind, bool) {
	k, ok := Registry[identifier]
	return k, ok
}

func comparableType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Array, reflect.Slice:
		return true
	default:
		return true // any is comparable in tuple-encoded form (uuid, nested tuple, etc.)
	}
}

func numericType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func validateMinFields(kindName string, types []reflect.Type, min int) error {
	if len(types) < min {
		return rerr.New(rerr.InvalidTypeCount, "%s index requires at least %d field(s), got %d", kindName, min, len(types))
	}
	return nil
}

// sparseSkip reports whether a sparse index omits this record entirely:
// every indexed element evaluated to nil, so no entry is written for it.
func sparseSkip(opts schema.CommonOptions, values tuple.Tuple) bool {
	if !opts.Sparse || len(values) == 0 {
		return false
	}
	for _, el := range values {
		if el != nil {
			return false
		}
	}
	return true
}

func validateAllComparable(kindName string, types []reflect.Type) error {
	for i, t := range types {
		if !comparableType(t) {
			return rerr.New(rerr.UnsupportedType, "%s index: field %d of type %s is not comparable", kindName, i, t)
		}
	}
	return nil
}

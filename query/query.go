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

// Package query is the predicate AST, index-aware planner, and in-memory
// evaluator/sorter for the DataStore's read path.
package query

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/tuple"
	"github.com/google/uuid"
	"golang.org/x/exp/constraints"
)

// fieldElement extracts the single canonical element addressed by path,
// or nil if the path resolves to an absent/null value.
func fieldElement(record any, path string) (tuple.Element, error) {
	t, err := dataaccess.ExtractField(record, path)
	if err != nil {
		return nil, err
	}
	if len(t) == 0 {
		return nil, nil
	}
	return t[0], nil
}

// Op is a predicate comparison operator.
type Op int

const (
	Eq Op = iota
	Neq
	Lt
	Lte
	Gt
	Gte
	Contains
	HasPrefix
	HasSuffix
	In
	IsNil
	IsNotNil
)

// Predicate is a node in the predicate tree: Field, And, Or, Not, True, False.
type Predicate interface{ predicate() }

// FieldPredicate tests one field, addressed by dot-notation path, against Op
// and Value. Value is ignored for IsNil/IsNotNil; for In it must be a slice.
type FieldPredicate struct {
	Path  string
	Op    Op
	Value any
}

// And requires every child predicate to hold.
type And struct{ Predicates []Predicate }

// Or requires at least one child predicate to hold.
type Or struct{ Predicates []Predicate }

// Not negates its child.
type Not struct{ Predicate Predicate }

// True always holds.
type True struct{}

// False never holds.
type False struct{}

func (FieldPredicate) predicate() {}
func (And) predicate()            {}
func (Or) predicate()             {}
func (Not) predicate()            {}
func (True) predicate()           {}
func (False) predicate()          {}

// SortDescriptor orders results by Path, ascending unless Descending.
type SortDescriptor struct {
	Path       string
	Descending bool
}

// Query is the full input to the planner: an entity type, a predicate tree,
// a stable sort-descriptor list, and an offset/limit applied last.
type Query struct {
	EntityType string
	Where      Predicate
	Sort       []SortDescriptor
	Limit      int
	Offset     int
}

// isIndexable reports whether op can drive an index-lifted condition:
// only =, <, <=, >, >= on an AND-chain are lifted.
func isIndexable(op Op) bool {
	switch op {
	case Eq, Lt, Lte, Gt, Gte:
		return true
	default:
		return false
	}
}

// Eval evaluates pred against record. It is the ground truth the planner's
// chosen scan is always checked against: fetch(P) must return exactly
// {r : Eval(P, r)} whether or not an index was used.
func Eval(record any, pred Predicate) (bool, error) {
	switch p := pred.(type) {
	case True:
		return true, nil
	case False:
		return false, nil
	case FieldPredicate:
		return evalField(record, p)
	case And:
		for _, c := range p.Predicates {
			ok, err := Eval(record, c)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case Or:
		for _, c := range p.Predicates {
			ok, err := Eval(record, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := Eval(record, p.Predicate)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, rerr.New(rerr.UnsupportedType, "query: unknown predicate %T", pred)
	}
}

func evalField(record any, p FieldPredicate) (bool, error) {
	el, err := fieldElement(record, p.Path)
	if err != nil {
		return false, err
	}
	switch p.Op {
	case IsNil:
		return el == nil, nil
	case IsNotNil:
		return el != nil, nil
	}
	if el == nil {
		return false, nil
	}
	switch p.Op {
	case Eq:
		return compareElements(el, normalize(p.Value)) == 0, nil
	case Neq:
		return compareElements(el, normalize(p.Value)) != 0, nil
	case Lt:
		return compareElements(el, normalize(p.Value)) < 0, nil
	case Lte:
		return compareElements(el, normalize(p.Value)) <= 0, nil
	case Gt:
		return compareElements(el, normalize(p.Value)) > 0, nil
	case Gte:
		return compareElements(el, normalize(p.Value)) >= 0, nil
	case Contains, HasPrefix, HasSuffix:
		s, ok := el.(string)
		if !ok {
			return false, nil
		}
		sub, ok := p.Value.(string)
		if !ok {
			return false, rerr.New(rerr.TypeMismatch, "query: %v requires a string value", p.Op)
		}
		switch p.Op {
		case Contains:
			return strings.Contains(s, sub), nil
		case HasPrefix:
			return strings.HasPrefix(s, sub), nil
		default:
			return strings.HasSuffix(s, sub), nil
		}
	case In:
		vals, ok := p.Value.([]any)
		if !ok {
			return false, rerr.New(rerr.TypeMismatch, "query: in requires a []any value")
		}
		for _, v := range vals {
			if compareElements(el, normalize(v)) == 0 {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, rerr.New(rerr.UnsupportedType, "query: unknown operator %v", p.Op)
	}
}

// normalize folds a predicate literal into the canonical tuple.Element shape
// dataaccess.ExtractField already produces for stored fields (all integer
// widths to int64, all float widths to float64, dates to epoch nanoseconds),
// so comparisons and index-key packing see the same representation on both
// sides.
func normalize(v any) tuple.Element {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case time.Time:
		return t.UnixNano()
	default:
		return t
	}
}

func asFloat[T constraints.Integer | constraints.Float](v T) float64 { return float64(v) }

func isNumeric(e tuple.Element) (float64, bool) {
	switch v := e.(type) {
	case int64:
		return asFloat(v), true
	case float64:
		return asFloat(v), true
	default:
		return 0, false
	}
}

// compareElements orders two canonical tuple elements: numerics of any
// width coerce to double, dates (folded to int64 nanos by
// normalize/dataaccess) compare chronologically as part of that, UUIDs
// compare by canonical string, strings lexicographically, booleans false <
// true, nil lowest of all.
func compareElements(a, b tuple.Element) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if fa, ok := isNumeric(a); ok {
		if fb, ok := isNumeric(b); ok {
			return cmpFloat(fa, fb)
		}
	}
	if ua, ok := a.(uuid.UUID); ok {
		if ub, ok := b.(uuid.UUID); ok {
			return compareStrings(ua.String(), ub.String())
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return cmpBool(ba, bb)
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return compareStrings(sa, sb)
		}
	}
	if xa, ok := a.([]byte); ok {
		if xb, ok := b.([]byte); ok {
			return bytes.Compare(xa, xb)
		}
	}
	return compareStrings(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1 // false < true
	}
	return 1
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

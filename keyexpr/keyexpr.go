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

// Package keyexpr is the small AST used to declaratively
// extract field sequences from a record: Field, Nest, Concatenate, Literal,
// Empty, RangeBoundary.
package keyexpr

import (
	"strings"

	"github.com/erigontech/reclayer/tuple"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Expr is a node in the key-expression AST.
type Expr interface {
	// ColumnCount reports how many tuple elements this node contributes.
	ColumnCount() int
	expr()
}

// Field extracts a single named field, which may be a dotted path
// ("address.city") resolved by DataAccess.
type Field struct{ Path string }

func (Field) ColumnCount() int { return 1 }
func (Field) expr()            {}

// Nest compiles to a dot-joined path for the leaf Field: Nest("address",
// Field{"city"}) is equivalent to Field{"address.city"}.
type Nest struct {
	Parent string
	Child  Expr
}

func (n Nest) ColumnCount() int { return n.Child.ColumnCount() }
func (Nest) expr()              {}

// Compile folds Nest into a flat Field by joining paths with ".".
func (n Nest) Compile() Expr {
	switch c := n.Child.(type) {
	case Field:
		return Field{Path: n.Parent + "." + c.Path}
	case Nest:
		inner := c.Compile()
		if f, ok := inner.(Field); ok {
			return Field{Path: n.Parent + "." + f.Path}
		}
		return Nest{Parent: n.Parent, Child: inner}
	default:
		return n
	}
}

// Concatenate evaluates each child in order and appends their elements.
type Concatenate struct{ Exprs []Expr }

func (c Concatenate) ColumnCount() int {
	n := 0
	for _, e := range c.Exprs {
		n += e.ColumnCount()
	}
	return n
}
func (Concatenate) expr() {}

// Literal always evaluates to a fixed tuple, regardless of the record.
type Literal struct{ Value tuple.Tuple }

func (l Literal) ColumnCount() int { return len(l.Value) }
func (Literal) expr()              {}

// Empty evaluates to zero elements.
type Empty struct{}

func (Empty) ColumnCount() int { return 0 }
func (Empty) expr()            {}

// Boundary selects which side of a ranged field RangeBoundary extracts.
type Boundary int

const (
	Lower Boundary = iota
	Upper
)

// RangeBoundary extracts the lower or upper bound of a ranged field.
// Extraction is optional: a maintainer may refuse to support it.
type RangeBoundary struct {
	Path     string
	Boundary Boundary
}

func (RangeBoundary) ColumnCount() int { return 1 }
func (RangeBoundary) expr()            {}

// compiledCache memoises FromPath/FromPaths compilations; expressions are
// immutable once built, so a small LRU is safe across concurrent readers.
var compiledCache, _ = lru.New[string, Expr](4096)

// FromPath builds a Field expression from a single dot-notation path.
func FromPath(path string) Expr {
	if e, ok := compiledCache.Get(path); ok {
		return e
	}
	e := Expr(Field{Path: path})
	compiledCache.Add(path, e)
	return e
}

// FromPaths builds a plain Field for a single path, or a Concatenate of
// Fields for multiple paths.
func FromPaths(paths []string) Expr {
	key := strings.Join(paths, "\x00")
	if e, ok := compiledCache.Get(key); ok {
		return e
	}
	var out Expr
	if len(paths) == 1 {
		out = Field{Path: paths[0]}
	} else {
		exprs := make([]Expr, len(paths))
		for i, p := range paths {
			exprs[i] = Field{Path: p}
		}
		out = Concatenate{Exprs: exprs}
	}
	compiledCache.Add(key, out)
	return out
}

// LeafPaths returns the dot-notation paths a Field-only expression (or a
// Concatenate of Fields) refers to, in order. A RangeBoundary reports its
// own Path; other non-Field leaves (Literal, Empty) are reported as ""
// placeholders.
func LeafPaths(e Expr) []string {
	switch v := e.(type) {
	case Field:
		return []string{v.Path}
	case Nest:
		return LeafPaths(v.Compile())
	case Concatenate:
		var out []string
		for _, c := range v.Exprs {
			out = append(out, LeafPaths(c)...)
		}
		return out
	case RangeBoundary:
		return []string{v.Path}
	default:
		return []string{""}
	}
}

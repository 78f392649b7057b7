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

package indexkind

import (
	"context"
	"encoding/binary"
	"reflect"

	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/keyexpr"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
)

type countKindImpl struct{}

func (countKindImpl) Identifier() string                          { return "count" }
func (countKindImpl) SubspaceStructure() schema.SubspaceStructure { return schema.Aggregation }

func (countKindImpl) ValidateTypes(types []reflect.Type) error {
	if err := validateMinFields("count", types, 1); err != nil {
		return err
	}
	return validateAllComparable("count", types)
}

func (countKindImpl) MakeMaintainer(desc *schema.IndexDescriptor, sub tuple.Subspace, idExpr keyexpr.Expr) (schema.IndexMaintainer, error) {
	return &countMaintainer{desc: desc, sub: sub, groupExpr: desc.KeyExpr()}, nil
}

// CountKind is the "count" built-in IndexKind.
var CountKind schema.IndexKind = countKindImpl{}

type countMaintainer struct {
	desc      *schema.IndexDescriptor
	sub       tuple.Subspace
	groupExpr keyexpr.Expr
}

func (m *countMaintainer) key(group tuple.Tuple) []byte { return m.sub.Pack(group) }

func (m *countMaintainer) Update(ctx context.Context, id tuple.Tuple, old, new any, tx kv.RwTx) error {
	var oldGroup, newGroup tuple.Tuple
	var err error
	if old != nil {
		if oldGroup, err = dataaccess.Evaluate(old, m.groupExpr); err != nil {
			return err
		}
	}
	if new != nil {
		if newGroup, err = dataaccess.Evaluate(new, m.groupExpr); err != nil {
			return err
		}
	}

	switch {
	case old == nil && new != nil:
		return tx.AtomicAdd(m.key(newGroup), 1)
	case old != nil && new == nil:
		return tx.AtomicAdd(m.key(oldGroup), -1)
	case old != nil && new != nil:
		if tuple.Compare(oldGroup, newGroup) == 0 {
			return nil
		}
		if err := tx.AtomicAdd(m.key(oldGroup), -1); err != nil {
			return err
		}
		return tx.AtomicAdd(m.key(newGroup), 1)
	default:
		return nil
	}
}

func (m *countMaintainer) Scan(ctx context.Context, id tuple.Tuple, record any, tx kv.RwTx) error {
	group, err := dataaccess.Evaluate(record, m.groupExpr)
	if err != nil {
		return err
	}
	return tx.AtomicAdd(m.key(group), 1)
}

// ReadCount returns the current counter for group, 0 if absent.
func (m *countMaintainer) ReadCount(tx kv.Tx, group tuple.Tuple) (int64, error) {
	v, ok, err := tx.Get(m.key(group))
	if err != nil || !ok {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(v)), nil
}

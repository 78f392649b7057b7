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
	"math"
	"reflect"

	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/keyexpr"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
)

type sumKindImpl struct{}

func (sumKindImpl) Identifier() string                          { return "sum" }
func (sumKindImpl) SubspaceStructure() schema.SubspaceStructure { return schema.Aggregation }

func (sumKindImpl) ValidateTypes(types []reflect.Type) error {
	if err := validateMinFields("sum", types, 2); err != nil {
		return err
	}
	last := types[len(types)-1]
	if !numericType(last) {
		return rerr.New(rerr.UnsupportedType, "sum index: value field must be numeric, got %s", last)
	}
	return validateAllComparable("sum", types[:len(types)-1])
}

func (sumKindImpl) MakeMaintainer(desc *schema.IndexDescriptor, sub tuple.Subspace, idExpr keyexpr.Expr) (schema.IndexMaintainer, error) {
	if len(desc.KeyPaths) < 2 {
		return nil, rerr.New(rerr.InvalidTypeCount, "sum index %q requires at least 2 key paths", desc.Name)
	}
	groupExpr := keyexpr.FromPaths(desc.KeyPaths[:len(desc.KeyPaths)-1])
	valueExpr := keyexpr.FromPath(desc.KeyPaths[len(desc.KeyPaths)-1])
	return &sumMaintainer{desc: desc, sub: sub, groupExpr: groupExpr, valueExpr: valueExpr}, nil
}

// SumKind is the "sum" built-in IndexKind.
var SumKind schema.IndexKind = sumKindImpl{}

type sumMaintainer struct {
	desc      *schema.IndexDescriptor
	sub       tuple.Subspace
	groupExpr keyexpr.Expr
	valueExpr keyexpr.Expr
}

func (m *sumMaintainer) key(group tuple.Tuple) []byte { return m.sub.Pack(group) }

func elementToFloat64(el tuple.Element) float64 {
	switch v := el.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}

func (m *sumMaintainer) readDouble(tx kv.Tx, key []byte) (float64, error) {
	v, ok, err := tx.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v)), nil
}

func (m *sumMaintainer) writeDouble(tx kv.RwTx, key []byte, value float64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(value))
	return tx.Set(key, buf)
}

func (m *sumMaintainer) addDelta(tx kv.RwTx, key []byte, delta float64) error {
	cur, err := m.readDouble(tx, key)
	if err != nil {
		return err
	}
	return m.writeDouble(tx, key, cur+delta)
}

func (m *sumMaintainer) fieldValue(record any) (float64, error) {
	t, err := dataaccess.Evaluate(record, m.valueExpr)
	if err != nil {
		return 0, err
	}
	return elementToFloat64(t[0]), nil
}

func (m *sumMaintainer) Update(ctx context.Context, id tuple.Tuple, old, new any, tx kv.RwTx) error {
	var oldGroup, newGroup tuple.Tuple
	var oldVal, newVal float64
	var err error
	if old != nil {
		if oldGroup, err = dataaccess.Evaluate(old, m.groupExpr); err != nil {
			return err
		}
		if oldVal, err = m.fieldValue(old); err != nil {
			return err
		}
	}
	if new != nil {
		if newGroup, err = dataaccess.Evaluate(new, m.groupExpr); err != nil {
			return err
		}
		if newVal, err = m.fieldValue(new); err != nil {
			return err
		}
	}

	switch {
	case old == nil && new != nil:
		return m.addDelta(tx, m.key(newGroup), newVal)
	case old != nil && new == nil:
		return m.addDelta(tx, m.key(oldGroup), -oldVal)
	case old != nil && new != nil:
		if tuple.Compare(oldGroup, newGroup) == 0 {
			return m.addDelta(tx, m.key(oldGroup), newVal-oldVal)
		}
		if err := m.addDelta(tx, m.key(oldGroup), -oldVal); err != nil {
			return err
		}
		return m.addDelta(tx, m.key(newGroup), newVal)
	default:
		return nil
	}
}

func (m *sumMaintainer) Scan(ctx context.Context, id tuple.Tuple, record any, tx kv.RwTx) error {
	group, err := dataaccess.Evaluate(record, m.groupExpr)
	if err != nil {
		return err
	}
	val, err := m.fieldValue(record)
	if err != nil {
		return err
	}
	return m.addDelta(tx, m.key(group), val)
}

// ReadSum returns the current sum for group, 0 if absent.
func (m *sumMaintainer) ReadSum(tx kv.Tx, group tuple.Tuple) (float64, error) {
	return m.readDouble(tx, m.key(group))
}

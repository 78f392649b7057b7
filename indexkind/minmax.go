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
	"reflect"

	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/keyexpr"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
)

type minMaxKindImpl struct{ id string }

func (k minMaxKindImpl) Identifier() string                        { return k.id }
func (minMaxKindImpl) SubspaceStructure() schema.SubspaceStructure { return schema.Flat }

func (k minMaxKindImpl) ValidateTypes(types []reflect.Type) error {
	if err := validateMinFields(k.id, types, 2); err != nil {
		return err
	}
	return validateAllComparable(k.id, types)
}

func (k minMaxKindImpl) MakeMaintainer(desc *schema.IndexDescriptor, sub tuple.Subspace, idExpr keyexpr.Expr) (schema.IndexMaintainer, error) {
	if len(desc.KeyPaths) < 2 {
		return nil, rerr.New(rerr.InvalidTypeCount, "%s index %q requires at least 2 key paths", k.id, desc.Name)
	}
	groupExpr := keyexpr.FromPaths(desc.KeyPaths[:len(desc.KeyPaths)-1])
	valueExpr := keyexpr.FromPath(desc.KeyPaths[len(desc.KeyPaths)-1])
	return &minMaxMaintainer{desc: desc, sub: sub, groupExpr: groupExpr, valueExpr: valueExpr}, nil
}

// MinKind is the "min" built-in IndexKind.
var MinKind schema.IndexKind = minMaxKindImpl{id: "min"}

// MaxKind is the "max" built-in IndexKind.
var MaxKind schema.IndexKind = minMaxKindImpl{id: "max"}

// minMaxMaintainer implements both min and max: the layout is identical
// (group, value, id) key-only entries; which end of the group's range is
// "min" vs "max" is purely a matter of which read helper the query layer
// calls.
type minMaxMaintainer struct {
	desc      *schema.IndexDescriptor
	sub       tuple.Subspace
	groupExpr keyexpr.Expr
	valueExpr keyexpr.Expr
}

func (m *minMaxMaintainer) key(group, value, id tuple.Tuple) []byte {
	full := append(append(append(tuple.Tuple{}, group...), value...), id...)
	return m.sub.Pack(full)
}

func (m *minMaxMaintainer) parts(record any) (group, value tuple.Tuple, err error) {
	if group, err = dataaccess.Evaluate(record, m.groupExpr); err != nil {
		return nil, nil, err
	}
	if value, err = dataaccess.Evaluate(record, m.valueExpr); err != nil {
		return nil, nil, err
	}
	return group, value, nil
}

func (m *minMaxMaintainer) Update(ctx context.Context, id tuple.Tuple, old, new any, tx kv.RwTx) error {
	if old != nil {
		group, value, err := m.parts(old)
		if err != nil {
			return err
		}
		if !sparseSkip(m.desc.Options, value) {
			if err := tx.Clear(m.key(group, value, id)); err != nil {
				return err
			}
		}
	}
	if new != nil {
		group, value, err := m.parts(new)
		if err != nil {
			return err
		}
		if sparseSkip(m.desc.Options, value) {
			return nil
		}
		if err := tx.Set(m.key(group, value, id), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func (m *minMaxMaintainer) Scan(ctx context.Context, id tuple.Tuple, record any, tx kv.RwTx) error {
	group, value, err := m.parts(record)
	if err != nil {
		return err
	}
	if sparseSkip(m.desc.Options, value) {
		return nil
	}
	return tx.Set(m.key(group, value, id), []byte{})
}

func (m *minMaxMaintainer) ComputeIndexKeys(id tuple.Tuple, record any) ([][]byte, error) {
	group, value, err := m.parts(record)
	if err != nil {
		return nil, err
	}
	if sparseSkip(m.desc.Options, value) {
		return nil, nil
	}
	return [][]byte{m.key(group, value, id)}, nil
}

// ReadMin returns the first (group, value, id) key at or after group, which
// is the minimum value stored for that group.
func (m *minMaxMaintainer) ReadMin(tx kv.Tx, group tuple.Tuple) (tuple.Tuple, bool, error) {
	groupSub := m.sub.Sub(group)
	begin, end := groupSub.Range()
	it, err := tx.Range(begin, end)
	if err != nil {
		return nil, false, err
	}
	defer it.Close()
	if !it.Next() {
		return nil, false, it.Err()
	}
	rel, err := groupSub.Unpack(it.Key())
	if err != nil {
		return nil, false, err
	}
	return rel, true, nil
}

// ReadMax returns the last (group, value, id) key within group, which is the
// maximum value stored for that group.
func (m *minMaxMaintainer) ReadMax(tx kv.Tx, group tuple.Tuple) (tuple.Tuple, bool, error) {
	groupSub := m.sub.Sub(group)
	begin, end := groupSub.Range()
	it, err := tx.Range(begin, end)
	if err != nil {
		return nil, false, err
	}
	defer it.Close()
	var last []byte
	for it.Next() {
		last = append([]byte(nil), it.Key()...)
	}
	if err := it.Err(); err != nil {
		return nil, false, err
	}
	if last == nil {
		return nil, false, nil
	}
	rel, err := groupSub.Unpack(last)
	if err != nil {
		return nil, false, err
	}
	return rel, true, nil
}

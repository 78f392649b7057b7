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

// scalarKindImpl backs both ScalarKind and VersionKind: "key = [sub][field
// values...][id]=∅", differing only in identifier and type
// validation strictness.
type scalarKindImpl struct {
	id            string
	restrictTypes bool
}

func (k scalarKindImpl) Identifier() string                        { return k.id }
func (scalarKindImpl) SubspaceStructure() schema.SubspaceStructure { return schema.Flat }

func (k scalarKindImpl) ValidateTypes(types []reflect.Type) error {
	if err := validateMinFields(k.id, types, 1); err != nil {
		return err
	}
	if k.restrictTypes {
		return validateAllComparable(k.id, types)
	}
	return nil
}

func (k scalarKindImpl) MakeMaintainer(desc *schema.IndexDescriptor, sub tuple.Subspace, idExpr keyexpr.Expr) (schema.IndexMaintainer, error) {
	return &scalarMaintainer{
		desc:    desc,
		sub:     sub,
		keyExpr: desc.KeyExpr(),
	}, nil
}

// ScalarKind is the "scalar" built-in IndexKind.
var ScalarKind schema.IndexKind = scalarKindImpl{id: "scalar", restrictTypes: true}

// VersionKind is the "version" built-in IndexKind: identical layout to
// scalar, but accepts any field type (it indexes an opaque version marker).
var VersionKind schema.IndexKind = scalarKindImpl{id: "version", restrictTypes: false}

type scalarMaintainer struct {
	desc    *schema.IndexDescriptor
	sub     tuple.Subspace
	keyExpr keyexpr.Expr
}

func (m *scalarMaintainer) key(fieldValues, id tuple.Tuple) []byte {
	full := append(append(tuple.Tuple{}, fieldValues...), id...)
	return m.sub.Pack(full)
}

func (m *scalarMaintainer) checkUnique(ctx context.Context, fieldValues, id tuple.Tuple, tx kv.RwTx) error {
	if !m.desc.Options.Unique {
		return nil
	}
	prefixSub := m.sub.Sub(fieldValues)
	begin, end := prefixSub.Range()
	it, err := tx.Range(begin, end)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		rel, err := prefixSub.Unpack(it.Key())
		if err != nil {
			return rerr.Wrap(rerr.DeserializationFailed, err, "unique check: undecodable index key")
		}
		if tuple.Compare(rel, id) != 0 {
			return rerr.New(rerr.UniqueViolation, "index %q: value %v already claimed by another id", m.desc.Name, fieldValues)
		}
	}
	return it.Err()
}

func (m *scalarMaintainer) Update(ctx context.Context, id tuple.Tuple, old, new any, tx kv.RwTx) error {
	if old != nil {
		oldValues, err := dataaccess.Evaluate(old, m.keyExpr)
		if err != nil {
			return err
		}
		if !sparseSkip(m.desc.Options, oldValues) {
			if err := tx.Clear(m.key(oldValues, id)); err != nil {
				return err
			}
		}
	}
	if new != nil {
		newValues, err := dataaccess.Evaluate(new, m.keyExpr)
		if err != nil {
			return err
		}
		if sparseSkip(m.desc.Options, newValues) {
			return nil
		}
		if err := m.checkUnique(ctx, newValues, id, tx); err != nil {
			return err
		}
		if err := tx.Set(m.key(newValues, id), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func (m *scalarMaintainer) Scan(ctx context.Context, id tuple.Tuple, record any, tx kv.RwTx) error {
	values, err := dataaccess.Evaluate(record, m.keyExpr)
	if err != nil {
		return err
	}
	if sparseSkip(m.desc.Options, values) {
		return nil
	}
	if err := m.checkUnique(ctx, values, id, tx); err != nil {
		return err
	}
	return tx.Set(m.key(values, id), []byte{})
}

func (m *scalarMaintainer) ComputeIndexKeys(id tuple.Tuple, record any) ([][]byte, error) {
	values, err := dataaccess.Evaluate(record, m.keyExpr)
	if err != nil {
		return nil, err
	}
	if sparseSkip(m.desc.Options, values) {
		return nil, nil
	}
	return [][]byte{m.key(values, id)}, nil
}

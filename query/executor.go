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

package query

import (
	"context"
	"sort"

	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/schema"
)

// Execute runs q against tx: selects a plan, scans (via the chosen index or
// a full entity-type scan), post-filters with Eval so the result always
// equals {r : Eval(q.Where, r)} regardless of whether an index was used,
// sorts, then applies offset and limit in that order.
func Execute(ctx context.Context, tx kv.Tx, root layout.Root, codec dataaccess.Codec, sch *schema.Schema, readable func(string) bool, q Query, newRecord func() any) ([]any, error) {
	records, _, err := ExecuteWithPlan(ctx, tx, root, codec, sch, readable, q, newRecord)
	return records, err
}

// ExecuteWithPlan is Execute plus the chosen Plan, so a caller (the
// DataStore facade) can emit a fallback/index-use metric without
// re-deriving the plan itself.
func ExecuteWithPlan(ctx context.Context, tx kv.Tx, root layout.Root, codec dataaccess.Codec, sch *schema.Schema, readable func(string) bool, q Query, newRecord func() any) ([]any, *Plan, error) {
	entity, ok := sch.EntityByName(q.EntityType)
	if !ok {
		return nil, nil, rerr.New(rerr.IndexNotFound, "query: unknown entity %q", q.EntityType)
	}
	where := q.Where
	if where == nil {
		where = True{}
	}

	plan := SelectPlan(sch, root, q.EntityType, where, readable)
	var records []any
	var err error
	if plan.Index == nil {
		begin, end := root.RecordSubspace(q.EntityType).Range()
		records, err = scanRecords(ctx, tx, codec, newRecord, begin, end)
	} else {
		idColumns := entity.IDExpr().ColumnCount()
		records, err = scanViaIndex(ctx, tx, root, codec, q.EntityType, newRecord, plan.Index.Name, plan.Begin, plan.End, idColumns)
	}
	if err != nil {
		return nil, plan, err
	}

	filtered := make([]any, 0, len(records))
	for _, r := range records {
		ok, err := Eval(r, where)
		if err != nil {
			return nil, plan, err
		}
		if ok {
			filtered = append(filtered, r)
		}
	}

	sortRecords(filtered, q.Sort)

	if q.Offset > 0 {
		if q.Offset >= len(filtered) {
			filtered = filtered[:0]
		} else {
			filtered = filtered[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(filtered) {
		filtered = filtered[:q.Limit]
	}
	return filtered, plan, nil
}

// ExecuteCount answers q's cardinality without materialising results when
// possible: no predicate counts the entity-type subspace directly; an exact
// index-covered predicate counts the index's scan range without
// deserialising; anything else falls back to len(Execute(...)).
func ExecuteCount(ctx context.Context, tx kv.Tx, root layout.Root, codec dataaccess.Codec, sch *schema.Schema, readable func(string) bool, q Query, newRecord func() any) (int, error) {
	where := q.Where
	if where == nil {
		where = True{}
	}
	if _, isTrue := where.(True); isTrue {
		begin, end := root.RecordSubspace(q.EntityType).Range()
		return countRange(tx, begin, end)
	}

	plan := SelectPlan(sch, root, q.EntityType, where, readable)
	if plan.Index != nil && plan.Exact {
		return countRange(tx, plan.Begin, plan.End)
	}

	noLimit := q
	noLimit.Limit = 0
	noLimit.Offset = 0
	records, err := Execute(ctx, tx, root, codec, sch, readable, noLimit, newRecord)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func countRange(tx kv.Tx, begin, end []byte) (int, error) {
	it, err := tx.Range(begin, end)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}

func scanRecords(ctx context.Context, tx kv.Tx, codec dataaccess.Codec, newRecord func() any, begin, end []byte) ([]any, error) {
	it, err := tx.Range(begin, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []any
	for it.Next() {
		record := newRecord()
		if err := codec.Deserialize(it.Value(), record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, it.Err()
}

func scanViaIndex(ctx context.Context, tx kv.Tx, root layout.Root, codec dataaccess.Codec, entityType string, newRecord func() any, indexName string, begin, end []byte, idColumns int) ([]any, error) {
	sub := root.IndexSubspace(indexName)
	recordSub := root.RecordSubspace(entityType)

	it, err := tx.Range(begin, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []any
	for it.Next() {
		full, err := sub.Unpack(it.Key())
		if err != nil {
			return nil, rerr.Wrap(rerr.DeserializationFailed, err, "query: undecodable index entry")
		}
		if len(full) < idColumns {
			return nil, rerr.New(rerr.DeserializationFailed, "query: index entry shorter than id")
		}
		id := full[len(full)-idColumns:]

		value, ok, err := tx.Get(recordSub.Pack(id))
		if err != nil {
			return nil, err
		}
		if !ok {
			// A readable index's entries should all resolve; this shouldn't
			// happen; tolerate it rather than fail a whole query over one
			// stale entry a concurrent scrub will clean up.
			continue
		}
		record := newRecord()
		if err := codec.Deserialize(value, record); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func sortRecords(records []any, sorts []SortDescriptor) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, sd := range sorts {
			ei, _ := fieldElement(records[i], sd.Path)
			ej, _ := fieldElement(records[j], sd.Path)
			c := compareElements(ei, ej)
			if c == 0 {
				continue
			}
			if sd.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

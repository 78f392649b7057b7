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

// Package datastore is the DataStore facade: the single
// entry point applications use to save, fetch, and delete entities, keeping
// every applicable index in sync with the record inside one KV transaction.
package datastore

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/erigontech/reclayer/config"
	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/indexstate"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/metrics"
	"github.com/erigontech/reclayer/query"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
	"go.uber.org/zap"
)

// DataStore is the facade over one Schema, one KV store, and one codec.
type DataStore struct {
	db    kv.DB
	sch   *schema.Schema
	root  layout.Root
	codec dataaccess.Codec
	state *indexstate.Manager
	log   *zap.Logger
	cfg   config.DataStoreConfig
	delg  metrics.DataStoreDelegate

	mu          sync.Mutex
	maintainers map[string]schema.IndexMaintainer
}

// New returns a DataStore over db, described by sch, rooted at root.
// A nil logger defaults to a no-op logger; a nil delegate to metrics.Nop.
func New(db kv.DB, sch *schema.Schema, root layout.Root, codec dataaccess.Codec, cfg config.DataStoreConfig, log *zap.Logger, delg metrics.DataStoreDelegate) *DataStore {
	if log == nil {
		log = zap.NewNop()
	}
	if delg == nil {
		delg = metrics.Nop{}
	}
	return &DataStore{
		db: db, sch: sch, root: root, codec: codec,
		state: indexstate.New(root.IndexStateSubspace()),
		log:   log, cfg: cfg, delg: delg,
		maintainers: make(map[string]schema.IndexMaintainer),
	}
}

func (ds *DataStore) maintainerFor(entity *schema.Entity, desc *schema.IndexDescriptor) (schema.IndexMaintainer, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if m, ok := ds.maintainers[desc.Name]; ok {
		return m, nil
	}
	m, err := desc.Kind.MakeMaintainer(desc, ds.root.IndexSubspace(desc.Name), entity.IDExpr())
	if err != nil {
		return nil, err
	}
	ds.maintainers[desc.Name] = m
	return m, nil
}

// FetchAll returns every record of entityType, unfiltered.
func (ds *DataStore) FetchAll(ctx context.Context, entityType string, newRecord func() any) ([]any, error) {
	return ds.Fetch(ctx, query.Query{EntityType: entityType}, newRecord)
}

// FetchById returns the single record keyed by id, or ok=false if absent.
func (ds *DataStore) FetchById(ctx context.Context, entityType string, id tuple.Tuple, newRecord func() any) (record any, ok bool, err error) {
	start := time.Now()
	err = ds.db.View(ctx, func(tx kv.Tx) error {
		v, found, gErr := tx.Get(ds.root.RecordKey(entityType, id))
		if gErr != nil {
			return gErr
		}
		if !found {
			return nil
		}
		ok = true
		record = newRecord()
		return ds.codec.Deserialize(v, record)
	})
	if err != nil {
		ds.delg.DidFailFetch(entityType, err)
		return nil, false, err
	}
	ds.delg.DidFetch(entityType, boolToInt(ok), time.Since(start))
	return record, ok, nil
}

// Fetch runs q and returns its matching, sorted, offset/limited records,
// emitting a fallback-to-scan or used-index metric depending on the plan the
// query planner chose.
func (ds *DataStore) Fetch(ctx context.Context, q query.Query, newRecord func() any) ([]any, error) {
	start := time.Now()
	var records []any
	err := ds.db.View(ctx, func(tx kv.Tx) error {
		recs, plan, qErr := query.ExecuteWithPlan(ctx, tx, ds.root, ds.codec, ds.sch, ds.readableWith(tx), q, newRecord)
		if qErr != nil {
			return qErr
		}
		if plan.Index == nil {
			ds.delg.DidFallBackToScan(q.EntityType)
		} else {
			ds.delg.DidUseIndex(q.EntityType, plan.Index.Name)
		}
		records = recs
		return nil
	})
	if err != nil {
		ds.delg.DidFailFetch(q.EntityType, err)
		return nil, err
	}
	ds.delg.DidFetch(q.EntityType, len(records), time.Since(start))
	return records, nil
}

// FetchCount answers q's cardinality; see query.ExecuteCount for the
// short-circuit rules.
func (ds *DataStore) FetchCount(ctx context.Context, q query.Query, newRecord func() any) (int, error) {
	var n int
	err := ds.db.View(ctx, func(tx kv.Tx) error {
		var cErr error
		n, cErr = ds.fetchCountTx(ctx, tx, q, newRecord)
		return cErr
	})
	return n, err
}

func (ds *DataStore) fetchCountTx(ctx context.Context, tx kv.Tx, q query.Query, newRecord func() any) (int, error) {
	return query.ExecuteCount(ctx, tx, ds.root, ds.codec, ds.sch, ds.readableWith(tx), q, newRecord)
}

func (ds *DataStore) readableWith(tx kv.Tx) func(string) bool {
	return func(indexName string) bool {
		s, err := ds.state.State(tx, indexName)
		return err == nil && s == indexstate.Readable
	}
}

// Save upserts records inside one transaction, diffing each against its
// pre-image and updating every non-disabled applicable index.
// Heterogeneous entity types in one call are fine; each
// record's type is resolved independently via the Schema.
func (ds *DataStore) Save(ctx context.Context, records []any) error {
	start := time.Now()
	err := ds.db.Update(ctx, func(tx kv.RwTx) error {
		for _, r := range records {
			if err := ds.writeOne(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
	itemType := itemTypeOf(records)
	if err != nil {
		ds.delg.DidFailSave(itemType, err)
		return err
	}
	ds.delg.DidSave(itemType, len(records), time.Since(start))
	return nil
}

func (ds *DataStore) writeOne(ctx context.Context, tx kv.RwTx, record any) error {
	entity, ok := ds.sch.EntityByType(record)
	if !ok {
		return rerr.New(rerr.UnsupportedType, "datastore: no entity registered for %T", record)
	}
	id, err := dataaccess.ExtractID(record, entity.IDExpr())
	if err != nil {
		return err
	}
	key := ds.root.RecordKey(entity.Name, id)
	if err := kv.ValidateKey(key); err != nil {
		return err
	}

	old, err := ds.loadPreImage(tx, entity, key)
	if err != nil {
		return err
	}

	raw, err := ds.codec.Serialize(record)
	if err != nil {
		return err
	}
	if err := kv.ValidateValue(raw); err != nil {
		return err
	}
	if err := tx.Set(key, raw); err != nil {
		return err
	}

	return ds.applyIndexes(ctx, tx, entity, id, old, record)
}

func (ds *DataStore) loadPreImage(tx kv.RwTx, entity *schema.Entity, key []byte) (any, error) {
	raw, ok, err := tx.Get(key)
	if err != nil || !ok {
		return nil, err
	}
	if entity.New == nil {
		return nil, rerr.New(rerr.UnsupportedType, "datastore: entity %q has no constructor, cannot diff pre-image", entity.Name)
	}
	old := entity.New()
	if err := ds.codec.Deserialize(raw, old); err != nil {
		return nil, err
	}
	return old, nil
}

func (ds *DataStore) applyIndexes(ctx context.Context, tx kv.RwTx, entity *schema.Entity, id tuple.Tuple, old, new any) error {
	for _, desc := range ds.sch.IndexesFor(entity.Name) {
		st, err := ds.state.State(tx, desc.Name)
		if err != nil {
			return err
		}
		if st == indexstate.Disabled {
			continue
		}
		maintainer, err := ds.maintainerFor(entity, desc)
		if err != nil {
			return err
		}
		if err := maintainer.Update(ctx, id, old, new, tx); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes records inside one transaction, retracting each from every
// applicable non-disabled index.
func (ds *DataStore) Delete(ctx context.Context, records []any) error {
	start := time.Now()
	err := ds.db.Update(ctx, func(tx kv.RwTx) error {
		for _, r := range records {
			entity, ok := ds.sch.EntityByType(r)
			if !ok {
				return rerr.New(rerr.UnsupportedType, "datastore: no entity registered for %T", r)
			}
			id, err := dataaccess.ExtractID(r, entity.IDExpr())
			if err != nil {
				return err
			}
			if err := ds.deleteOne(ctx, tx, entity, id); err != nil {
				return err
			}
		}
		return nil
	})
	itemType := itemTypeOf(records)
	if err != nil {
		ds.delg.DidFailDelete(itemType, err)
		return err
	}
	ds.delg.DidDelete(itemType, len(records), time.Since(start))
	return nil
}

// DeleteById deletes the record keyed by id without needing a decoded value.
func (ds *DataStore) DeleteById(ctx context.Context, entityType string, id tuple.Tuple) error {
	start := time.Now()
	err := ds.db.Update(ctx, func(tx kv.RwTx) error {
		entity, ok := ds.sch.EntityByName(entityType)
		if !ok {
			return rerr.New(rerr.IndexNotFound, "datastore: unknown entity %q", entityType)
		}
		return ds.deleteOne(ctx, tx, entity, id)
	})
	if err != nil {
		ds.delg.DidFailDelete(entityType, err)
		return err
	}
	ds.delg.DidDelete(entityType, 1, time.Since(start))
	return nil
}

func (ds *DataStore) deleteOne(ctx context.Context, tx kv.RwTx, entity *schema.Entity, id tuple.Tuple) error {
	key := ds.root.RecordKey(entity.Name, id)
	old, err := ds.loadPreImage(tx, entity, key)
	if err != nil {
		return err
	}
	if old == nil {
		return nil // already absent; deleting is idempotent
	}
	if err := tx.Clear(key); err != nil {
		return err
	}
	return ds.applyIndexes(ctx, tx, entity, id, old, nil)
}

// ExecuteBatch applies inserts and deletes inside a single KV transaction,
// inserts first, so a record that is both updated and later deleted in the
// same batch ends up deleted.
func (ds *DataStore) ExecuteBatch(ctx context.Context, inserts, deletes []any) error {
	start := time.Now()
	err := ds.db.Update(ctx, func(tx kv.RwTx) error {
		for _, r := range inserts {
			if err := ds.writeOne(ctx, tx, r); err != nil {
				return err
			}
		}
		for _, r := range deletes {
			entity, ok := ds.sch.EntityByType(r)
			if !ok {
				return rerr.New(rerr.UnsupportedType, "datastore: no entity registered for %T", r)
			}
			id, err := dataaccess.ExtractID(r, entity.IDExpr())
			if err != nil {
				return err
			}
			if err := ds.deleteOne(ctx, tx, entity, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		ds.delg.DidFailExecuteBatch(err)
		return err
	}
	ds.delg.DidExecuteBatch(len(inserts), len(deletes), time.Since(start))
	return nil
}

// ClearAll range-clears entityType's record subspace and every applicable
// index's subspace.
func (ds *DataStore) ClearAll(ctx context.Context, entityType string) error {
	return ds.db.Update(ctx, func(tx kv.RwTx) error {
		recBegin, recEnd := ds.root.RecordSubspace(entityType).Range()
		if err := tx.ClearRange(recBegin, recEnd); err != nil {
			return err
		}
		for _, desc := range ds.sch.IndexesFor(entityType) {
			begin, end := ds.root.IndexSubspace(desc.Name).Range()
			if err := tx.ClearRange(begin, end); err != nil {
				return err
			}
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// itemTypeOf reports a label for a heterogeneous record batch: the common
// type name if every record shares one, else "mixed".
func itemTypeOf(records []any) string {
	if len(records) == 0 {
		return ""
	}
	entityName := ""
	for i, r := range records {
		name := typeName(r)
		if i == 0 {
			entityName = name
			continue
		}
		if name != entityName {
			return "mixed"
		}
	}
	return entityName
}

// typeName mirrors schema.Schema.EntityByType's type-name resolution so
// metrics labels match the entity names records are actually registered
// under.
func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

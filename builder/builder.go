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

// Package builder is the online index builder: a batched,
// resumable scan that drives one index from disabled/writeOnly to readable.
package builder

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/erigontech/reclayer/config"
	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/indexstate"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/rangeset"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// CustomBuildStrategy is an optional capability a maintainer implements to
// take over the whole build instead of the default scan-and-Scan loop,
// for kinds that bulk-construct their entries. None of the built-in kinds
// implement it; it exists so a third-party IndexKind can.
type CustomBuildStrategy interface {
	Build(ctx context.Context, b *Builder, entityType, indexName string) error
}

// Builder drives one index's online build.
type Builder struct {
	db    kv.DB
	sch   *schema.Schema
	state *indexstate.Manager
	root  layout.Root
	codec dataaccess.Codec
	log   *zap.Logger
	cfg   config.BuilderConfig

	// dispatch collapses concurrent Build calls for the same indexName into
	// one in-flight build, the way a cluster of reclayerctl invocations or
	// app-server replicas racing to build the same index at startup should
	// not each run a redundant full scan.
	dispatch singleflight.Group
}

// New returns a Builder over db, bound to sch's entities/indexes and rooted
// at root. A nil logger defaults to a no-op logger.
func New(db kv.DB, sch *schema.Schema, root layout.Root, codec dataaccess.Codec, cfg config.BuilderConfig, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{db: db, sch: sch, state: indexstate.New(root.IndexStateSubspace()), root: root, codec: codec, log: log, cfg: cfg}
}

// Build drives indexName (declared against entityType) to Readable. A
// concurrent call for the same indexName joins the in-flight build instead
// of starting a second redundant scan.
func (b *Builder) Build(ctx context.Context, entityType, indexName string, newRecord func() any) error {
	_, err, _ := b.dispatch.Do(indexName, func() (any, error) {
		return nil, b.buildOnce(ctx, entityType, indexName, newRecord)
	})
	return err
}

// buildOnce is the single-flighted build body: the original scan-and-Scan
// loop, driving the index from disabled/writeOnly to readable.
// newRecord constructs a zero-value pointer to the entity's Go type, used to
// deserialize each scanned record.
func (b *Builder) buildOnce(ctx context.Context, entityType, indexName string, newRecord func() any) error {
	entity, ok := b.sch.EntityByName(entityType)
	if !ok {
		return rerr.New(rerr.IndexNotFound, "builder: unknown entity %q", entityType)
	}
	desc, ok := b.sch.IndexByName(indexName)
	if !ok {
		return rerr.New(rerr.IndexNotFound, "builder: unknown index %q", indexName)
	}
	maintainer, err := desc.Kind.MakeMaintainer(desc, b.root.IndexSubspace(indexName), entity.IDExpr())
	if err != nil {
		return err
	}
	if custom, ok := maintainer.(CustomBuildStrategy); ok {
		return custom.Build(ctx, b, entityType, indexName)
	}

	if b.cfg.ClearFirst {
		sub := b.root.IndexSubspace(indexName)
		begin, end := sub.Range()
		if err := b.db.Update(ctx, func(tx kv.RwTx) error { return tx.ClearRange(begin, end) }); err != nil {
			return err
		}
	}

	curState, err := b.currentState(ctx, indexName)
	if err != nil {
		return err
	}
	if curState == indexstate.Disabled {
		if err := b.state.MakeWriteOnly(ctx, b.db, indexName); err != nil {
			return err
		}
	}

	progress, err := b.loadOrInitProgress(ctx, entityType, indexName)
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Every(b.cfg.ThrottleDelay), 1)
	first := true
	for !progress.IsEmpty() {
		if !first {
			if err := limiter.Wait(ctx); err != nil {
				return rerr.Wrap(rerr.Cancelled, err, "builder: throttle wait")
			}
		}
		first = false

		head, ok := progress.NextBatch(b.cfg.BatchSize)
		if !ok {
			break
		}
		if err := b.runBatchWithRetry(ctx, entityType, indexName, maintainer, newRecord, progress, head); err != nil {
			return err
		}
	}

	if err := b.db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Clear(b.root.BuildProgressKey(indexName))
	}); err != nil {
		return err
	}
	return b.state.MakeReadable(ctx, b.db, indexName)
}

func (b *Builder) currentState(ctx context.Context, indexName string) (indexstate.State, error) {
	var s indexstate.State
	err := b.db.View(ctx, func(tx kv.Tx) error {
		var err error
		s, err = b.state.State(tx, indexName)
		return err
	})
	return s, err
}

func (b *Builder) loadOrInitProgress(ctx context.Context, entityType, indexName string) (*rangeset.Set, error) {
	var set *rangeset.Set
	err := b.db.View(ctx, func(tx kv.Tx) error {
		v, ok, err := tx.Get(b.root.BuildProgressKey(indexName))
		if err != nil {
			return err
		}
		if !ok {
			begin, end := b.root.RecordSubspace(entityType).Range()
			set = rangeset.From(begin, end)
			return nil
		}
		set, err = rangeset.Deserialize(v)
		return err
	})
	return set, err
}

// runBatchWithRetry wraps one batch's transaction in a bounded backoff
// retry, on top of the KV store's own per-transaction conflict retry, for
// transient errors that escape the store. Cancellation and
// every non-transient error terminate the build immediately.
func (b *Builder) runBatchWithRetry(ctx context.Context, entityType, indexName string, maintainer schema.IndexMaintainer, newRecord func() any, progress *rangeset.Set, head rangeset.Range) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(b.cfg.RetryDelay), uint64(b.cfg.MaxRetries))
	return backoff.Retry(func() error {
		err := b.runBatch(ctx, entityType, indexName, maintainer, newRecord, progress, head)
		if err != nil && rerr.Is(err, rerr.TransientKV) {
			b.log.Warn("builder: retrying transient batch error", zap.String("index", indexName), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// runBatch scans at most BatchSize records from head, invokes the
// maintainer's Scan for each, and persists the progress update — all inside
// one transaction, so a crash mid-batch loses no completed work.
func (b *Builder) runBatch(ctx context.Context, entityType, indexName string, maintainer schema.IndexMaintainer, newRecord func() any, progress *rangeset.Set, head rangeset.Range) error {
	recordSub := b.root.RecordSubspace(entityType)
	return b.db.Update(ctx, func(tx kv.RwTx) error {
		it, err := tx.Range(head.Begin, head.End)
		if err != nil {
			return err
		}
		defer it.Close()

		var lastKey []byte
		n := 0
		for n < b.cfg.BatchSize && it.Next() {
			key := it.Key()
			id, err := recordSub.Unpack(key)
			if err != nil {
				return rerr.Wrap(rerr.DeserializationFailed, err, "builder: undecodable record key")
			}
			record := newRecord()
			if err := b.codec.Deserialize(it.Value(), record); err != nil {
				return err
			}
			if err := maintainer.Scan(ctx, id, record, tx); err != nil {
				return err
			}
			lastKey = append([]byte(nil), key...)
			n++
		}
		if err := it.Err(); err != nil {
			return err
		}

		var completed rangeset.Range
		if lastKey == nil {
			completed = head // nothing left in this range at all
		} else {
			completed = rangeset.Range{Begin: head.Begin, End: tuple.Strinc(lastKey)}
		}
		progress.MarkCompleted(completed)
		return tx.Set(b.root.BuildProgressKey(indexName), rangeset.Serialize(progress))
	})
}

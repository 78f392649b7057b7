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

// Package scrubber is the online two-phase consistency checker/repairer:
// phase 1 finds index entries with no backing record
// (dangling), phase 2 finds records with a missing index entry.
package scrubber

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erigontech/reclayer/config"
	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/metrics"
	"github.com/erigontech/reclayer/rangeset"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Result is the summary returned by a scrub run.
type Result struct {
	IndexName             string
	Elapsed               time.Duration
	EntriesScanned        int
	ItemsScanned          int
	DanglingDetected      int
	DanglingRepaired      int
	MissingDetected       int
	MissingRepaired       int
	CompletedSuccessfully bool
	TerminationReason     string
}

// Scrubber runs phase-1/phase-2 consistency checks for one index.
type Scrubber struct {
	db    kv.DB
	sch   *schema.Schema
	root  layout.Root
	codec dataaccess.Codec
	log   *zap.Logger
	cfg   config.ScrubberConfig
	delg  metrics.ScrubberDelegate
}

// New returns a Scrubber over db, rooted at root, emitting counters to delg
// (metrics.NopScrubber{} if delg is nil).
func New(db kv.DB, sch *schema.Schema, root layout.Root, codec dataaccess.Codec, cfg config.ScrubberConfig, log *zap.Logger, delg metrics.ScrubberDelegate) *Scrubber {
	if log == nil {
		log = zap.NewNop()
	}
	if delg == nil {
		delg = metrics.NopScrubber{}
	}
	return &Scrubber{db: db, sch: sch, root: root, codec: codec, log: log, cfg: cfg, delg: delg}
}

// Run executes both phases for indexName (declared against entityType)
// until both phases' progress is exhausted, then clears the progress keys.
func (s *Scrubber) Run(ctx context.Context, entityType, indexName string, newRecord func() any) (Result, error) {
	start := time.Now()
	res := Result{IndexName: indexName}

	entity, ok := s.sch.EntityByName(entityType)
	if !ok {
		return res, rerr.New(rerr.IndexNotFound, "scrubber: unknown entity %q", entityType)
	}
	desc, ok := s.sch.IndexByName(indexName)
	if !ok {
		return res, rerr.New(rerr.IndexNotFound, "scrubber: unknown index %q", indexName)
	}
	maintainer, err := desc.Kind.MakeMaintainer(desc, s.root.IndexSubspace(indexName), entity.IDExpr())
	if err != nil {
		return res, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.runPhase1(gctx, entity, desc, entityType, indexName, &res)
		res.DanglingDetected += n
		return err
	})
	g.Go(func() error {
		n, err := s.runPhase2(gctx, entityType, indexName, maintainer, newRecord, desc, &res)
		res.MissingDetected += n
		return err
	})
	if err := g.Wait(); err != nil {
		res.TerminationReason = err.Error()
		res.Elapsed = time.Since(start)
		return res, err
	}

	if err := s.db.Update(ctx, func(tx kv.RwTx) error {
		if err := tx.Clear(s.root.ScrubProgressKey(indexName, "phase1")); err != nil {
			return err
		}
		return tx.Clear(s.root.ScrubProgressKey(indexName, "phase2"))
	}); err != nil {
		res.Elapsed = time.Since(start)
		return res, err
	}

	res.CompletedSuccessfully = true
	res.Elapsed = time.Since(start)
	s.delg.RunDuration(indexName, res.Elapsed)
	return res, nil
}

func (s *Scrubber) loadOrInitPhase(ctx context.Context, key []byte, begin, end []byte) (*rangeset.Set, error) {
	var set *rangeset.Set
	err := s.db.View(ctx, func(tx kv.Tx) error {
		v, ok, err := tx.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			set = rangeset.From(begin, end)
			return nil
		}
		set, err = rangeset.Deserialize(v)
		return err
	})
	return set, err
}

// runPhase1 scans the index subspace looking for entries whose trailing id
// resolves to no record. Returns the number of dangling entries detected.
// Aggregation indexes (count/sum) have no per-record id component in their
// key at all — there is nothing to check here, so phase 1 is a no-op for
// them.
func (s *Scrubber) runPhase1(ctx context.Context, entity *schema.Entity, desc *schema.IndexDescriptor, entityType, indexName string, res *Result) (int, error) {
	if desc.Kind.SubspaceStructure() == schema.Aggregation {
		return 0, nil
	}
	idColumns := entity.IDExpr().ColumnCount()

	sub := s.root.IndexSubspace(indexName)
	begin, end := sub.Range()
	progressKey := s.root.ScrubProgressKey(indexName, "phase1")
	progress, err := s.loadOrInitPhase(ctx, progressKey, begin, end)
	if err != nil {
		return 0, err
	}

	recordSub := s.root.RecordSubspace(entityType)
	limiter := rate.NewLimiter(rate.Every(s.cfg.ThrottleDelay), 1)
	detected, repaired, scanned := 0, 0, 0
	first := true
	for !progress.IsEmpty() {
		if !first {
			if err := limiter.Wait(ctx); err != nil {
				return detected, rerr.Wrap(rerr.Cancelled, err, "scrubber: phase1 throttle")
			}
		}
		first = false

		head, ok := progress.NextBatch(s.cfg.EntriesScanLimit)
		if !ok {
			break
		}
		d, r, n, err := s.runPhase1BatchWithRetry(ctx, sub, idColumns, indexName, recordSub, progress, progressKey, head)
		detected += d
		repaired += r
		scanned += n
		if err != nil {
			return detected, err
		}
	}
	res.DanglingRepaired += repaired
	res.EntriesScanned += scanned
	s.delg.DanglingDetected(indexName, detected)
	s.delg.DanglingRepaired(indexName, repaired)
	return detected, nil
}

func (s *Scrubber) runPhase1BatchWithRetry(ctx context.Context, sub tuple.Subspace, idColumns int, indexName string, recordSub tuple.Subspace, progress *rangeset.Set, progressKey []byte, head rangeset.Range) (detected, repaired, scanned int, err error) {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), uint64(s.cfg.MaxRetries))
	retryErr := backoff.Retry(func() error {
		d, r, n, e := s.runPhase1Batch(ctx, sub, idColumns, indexName, recordSub, progress, progressKey, head)
		detected, repaired, scanned = d, r, n
		if e != nil && rerr.Is(e, rerr.TransientKV) {
			return e
		}
		return backoff.Permanent(e)
	}, policy)
	return detected, repaired, scanned, retryErr
}

// trailingID extracts the last idColumns elements of the tuple packed under
// sub at key, which by construction is always the
// record's id.
func trailingID(sub tuple.Subspace, key []byte, idColumns int) (tuple.Tuple, error) {
	full, err := sub.Unpack(key)
	if err != nil {
		return nil, err
	}
	if len(full) < idColumns {
		return nil, rerr.New(rerr.DeserializationFailed, "scrubber: index entry shorter than id")
	}
	return full[len(full)-idColumns:], nil
}

func (s *Scrubber) runPhase1Batch(ctx context.Context, sub tuple.Subspace, idColumns int, indexName string, recordSub tuple.Subspace, progress *rangeset.Set, progressKey []byte, head rangeset.Range) (detected, repaired, scanned int, err error) {
	err = s.db.Update(ctx, func(tx kv.RwTx) error {
		detected, repaired, scanned = 0, 0, 0 // the store may re-run this closure on conflict
		it, iErr := tx.Range(head.Begin, head.End)
		if iErr != nil {
			return iErr
		}
		defer it.Close()

		var lastKey []byte
		n := 0
		for n < s.cfg.EntriesScanLimit && it.Next() {
			entryKey := append([]byte(nil), it.Key()...)
			id, uErr := trailingID(sub, entryKey, idColumns)
			if uErr == nil {
				recKey := recordSub.Pack(id)
				_, ok, gErr := tx.Get(recKey)
				if gErr != nil {
					return gErr
				}
				if !ok {
					detected++
					if s.cfg.AllowRepair {
						if cErr := tx.Clear(entryKey); cErr != nil {
							return cErr
						}
						repaired++
					}
				}
			}
			lastKey = entryKey
			n++
		}
		if iErr := it.Err(); iErr != nil {
			return iErr
		}
		s.delg.EntriesScanned(indexName, n)
		scanned = n

		var completed rangeset.Range
		if lastKey == nil {
			completed = head
		} else {
			completed = rangeset.Range{Begin: head.Begin, End: tuple.Strinc(lastKey)}
		}
		progress.MarkCompleted(completed)
		return tx.Set(progressKey, rangeset.Serialize(progress))
	})
	return detected, repaired, scanned, err
}

// runPhase2 scans entityType's records, asking maintainer for the keys each
// record expects to exist, and verifies them. Aggregation maintainers don't
// implement schema.KeyComputer (their index entries are per-group, not
// per-record), so phase 2 is a no-op for them: a drifted counter or sum can
// only be restored by a full rebuild with ClearFirst, not incremental
// repair, so there's nothing safe to detect here either without re-deriving
// the expected aggregate from scratch.
func (s *Scrubber) runPhase2(ctx context.Context, entityType, indexName string, maintainer schema.IndexMaintainer, newRecord func() any, desc *schema.IndexDescriptor, res *Result) (int, error) {
	computer, ok := maintainer.(schema.KeyComputer)
	if !ok {
		return 0, nil
	}

	recordSub := s.root.RecordSubspace(entityType)
	begin, end := recordSub.Range()
	progressKey := s.root.ScrubProgressKey(indexName, "phase2")
	progress, err := s.loadOrInitPhase(ctx, progressKey, begin, end)
	if err != nil {
		return 0, err
	}

	limiter := rate.NewLimiter(rate.Every(s.cfg.ThrottleDelay), 1)
	detected, repaired, itemsScanned := 0, 0, 0
	first := true
	for !progress.IsEmpty() {
		if !first {
			if err := limiter.Wait(ctx); err != nil {
				return detected, rerr.Wrap(rerr.Cancelled, err, "scrubber: phase2 throttle")
			}
		}
		first = false

		head, ok := progress.NextBatch(s.cfg.EntriesScanLimit)
		if !ok {
			break
		}
		d, r, n, err := s.runPhase2BatchWithRetry(ctx, entityType, indexName, computer, maintainer, newRecord, progress, progressKey, head)
		detected += d
		repaired += r
		itemsScanned += n
		if err != nil {
			return detected, err
		}
	}
	res.MissingRepaired += repaired
	res.ItemsScanned += itemsScanned
	s.delg.ItemsScanned(entityType, itemsScanned)
	s.delg.MissingDetected(indexName, detected)
	s.delg.MissingRepaired(indexName, repaired)
	return detected, nil
}

func (s *Scrubber) runPhase2BatchWithRetry(ctx context.Context, entityType, indexName string, computer schema.KeyComputer, maintainer schema.IndexMaintainer, newRecord func() any, progress *rangeset.Set, progressKey []byte, head rangeset.Range) (detected, repaired, scanned int, err error) {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), uint64(s.cfg.MaxRetries))
	retryErr := backoff.Retry(func() error {
		d, r, n, e := s.runPhase2Batch(ctx, entityType, indexName, computer, maintainer, newRecord, progress, progressKey, head)
		detected, repaired, scanned = d, r, n
		if e != nil && rerr.Is(e, rerr.TransientKV) {
			return e
		}
		return backoff.Permanent(e)
	}, policy)
	return detected, repaired, scanned, retryErr
}

func (s *Scrubber) runPhase2Batch(ctx context.Context, entityType, indexName string, computer schema.KeyComputer, maintainer schema.IndexMaintainer, newRecord func() any, progress *rangeset.Set, progressKey []byte, head rangeset.Range) (detected, repaired, scanned int, err error) {
	recordSub := s.root.RecordSubspace(entityType)
	err = s.db.Update(ctx, func(tx kv.RwTx) error {
		detected, repaired, scanned = 0, 0, 0 // the store may re-run this closure on conflict
		it, iErr := tx.Range(head.Begin, head.End)
		if iErr != nil {
			return iErr
		}
		defer it.Close()

		var lastKey []byte
		n := 0
		for n < s.cfg.EntriesScanLimit && it.Next() {
			key := append([]byte(nil), it.Key()...)
			value := append([]byte(nil), it.Value()...)
			id, uErr := recordSub.Unpack(key)
			if uErr != nil {
				lastKey = key
				n++
				continue
			}
			record := newRecord()
			if dErr := s.codec.Deserialize(value, record); dErr != nil {
				return dErr
			}
			keys, cErr := computer.ComputeIndexKeys(id, record)
			if cErr != nil {
				return cErr
			}
			missing := false
			for _, k := range keys {
				_, ok, gErr := tx.Get(k)
				if gErr != nil {
					return gErr
				}
				if !ok {
					missing = true
					break
				}
			}
			if missing {
				detected++
				if s.cfg.AllowRepair {
					if sErr := maintainer.Scan(ctx, id, record, tx); sErr != nil {
						return sErr
					}
					repaired++
				}
			}
			lastKey = key
			n++
		}
		if iErr := it.Err(); iErr != nil {
			return iErr
		}
		scanned = n

		var completed rangeset.Range
		if lastKey == nil {
			completed = head
		} else {
			completed = rangeset.Range{Begin: head.Begin, End: tuple.Strinc(lastKey)}
		}
		progress.MarkCompleted(completed)
		return tx.Set(progressKey, rangeset.Serialize(progress))
	})
	return detected, repaired, scanned, err
}

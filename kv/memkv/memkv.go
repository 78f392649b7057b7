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

// Package memkv is a reference, in-memory implementation of the kv contract,
// backed by a tidwall/btree copy-on-write map. It is meant for tests and for
// reclayerctl's default mode, not production use — a real deployment swaps
// in an actual ordered transactional store (FoundationDB, MDBX, ...) behind
// the same kv.DB interface.
//
// Writable transactions register both point reads and range reads as
// conflict sources: a commit fails if a key it read changed, or if any key
// (tombstones included) was written inside a range it scanned, since its
// snapshot was taken. The phantom check is what lets a range-scan-based
// unique-constraint probe reject a concurrent insert of the same value.
// Deletes keep a tombstone in the tree rather than removing the entry, so
// range readers conflict on them too; acceptable growth for a reference
// store.
package memkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"

	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/rerr"
	"github.com/tidwall/btree"
)

// maxConflictRetries bounds how many times Update retries f after a detected
// commit conflict (a key it read, or a range it scanned, was written after
// its snapshot) before giving up.
const maxConflictRetries = 50

type entry struct {
	value   []byte
	version uint64
	deleted bool
}

// DB is an in-memory kv.DB. The zero value is not usable; construct with New.
type DB struct {
	mu   sync.Mutex
	tree *btree.Map[string, entry]
	// version is bumped once per committed writing transaction; every entry
	// written by that commit carries it, and snapshots remember the version
	// they were taken at so range conflicts can be detected.
	version uint64
}

// New returns an empty DB.
func New() *DB {
	return &DB{tree: &btree.Map[string, entry]{}}
}

func (db *DB) snapshot() (*btree.Map[string, entry], uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tree.Copy(), db.version
}

// View runs f against a point-in-time snapshot.
func (db *DB) View(ctx context.Context, f func(tx kv.Tx) error) error {
	snap, _ := db.snapshot()
	tx := &txn{snapshot: snap}
	return f(tx)
}

// Update runs f against a writable transaction, retrying on conflict.
func (db *DB) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		snap, ver := db.snapshot()
		tx := &txn{
			snapshot:    snap,
			snapVersion: ver,
			writes:      map[string]entry{},
			reads:       map[string]uint64{},
		}
		if err := f(tx); err != nil {
			return err
		}
		if err := db.commit(tx); err != nil {
			if rerr.Is(err, rerr.TransientKV) {
				continue // conflict, retry from a fresh snapshot
			}
			return err
		}
		return nil
	}
	return rerr.New(rerr.TransientKV, "memkv: exceeded %d conflict retries", maxConflictRetries)
}

func (db *DB) commit(tx *txn) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for k, readVersion := range tx.reads {
		cur, ok := db.tree.Get(k)
		curVersion := uint64(0)
		if ok {
			curVersion = cur.version
		}
		if curVersion != readVersion {
			return rerr.New(rerr.TransientKV, "memkv: conflict on key %x", []byte(k))
		}
	}

	// Phantom check: anything written inside a scanned range since this
	// transaction's snapshot — inserts and tombstoned deletes alike —
	// conflicts the whole transaction.
	for _, rr := range tx.ranges {
		conflicted := false
		pivot := ""
		if rr.begin != nil {
			pivot = string(rr.begin)
		}
		db.tree.Ascend(pivot, func(k string, e entry) bool {
			if rr.end != nil && bytes.Compare([]byte(k), rr.end) >= 0 {
				return false
			}
			if e.version > tx.snapVersion {
				conflicted = true
				return false
			}
			return true
		})
		if conflicted {
			return rerr.New(rerr.TransientKV, "memkv: conflict on range [%x, %x)", rr.begin, rr.end)
		}
	}

	if len(tx.writes) == 0 {
		return nil
	}
	db.version++
	for k, e := range tx.writes {
		e.version = db.version
		db.tree.Set(k, e) // deletes stay as tombstones, see package comment
	}
	return nil
}

type rangeRead struct {
	begin, end []byte
}

type txn struct {
	snapshot    *btree.Map[string, entry]
	snapVersion uint64
	writes      map[string]entry
	reads       map[string]uint64
	ranges      []rangeRead
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (t *txn) recordRead(key string, e entry, ok bool) {
	if t.reads == nil {
		return
	}
	if _, seen := t.reads[key]; seen {
		return
	}
	v := uint64(0)
	if ok {
		v = e.version
	}
	t.reads[key] = v
}

func (t *txn) Get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if t.writes != nil {
		if e, ok := t.writes[k]; ok {
			if e.deleted {
				return nil, false, nil
			}
			return append([]byte(nil), e.value...), true, nil
		}
	}
	e, ok := t.snapshot.Get(k)
	t.recordRead(k, e, ok)
	if !ok || e.deleted {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (t *txn) Range(begin, end []byte) (kv.Iterator, error) {
	if t.reads != nil {
		t.ranges = append(t.ranges, rangeRead{begin: clone(begin), end: clone(end)})
	}
	var out []kvpair
	seen := map[string]bool{}

	inRange := func(k []byte) bool {
		if begin != nil && bytes.Compare(k, begin) < 0 {
			return false
		}
		if end != nil && bytes.Compare(k, end) >= 0 {
			return false
		}
		return true
	}

	if t.writes != nil {
		for k, e := range t.writes {
			kb := []byte(k)
			seen[k] = true
			if !inRange(kb) || e.deleted {
				continue
			}
			out = append(out, kvpair{key: kb, value: append([]byte(nil), e.value...)})
		}
	}

	pivot := ""
	if begin != nil {
		pivot = string(begin)
	}
	t.snapshot.Ascend(pivot, func(k string, e entry) bool {
		kb := []byte(k)
		if end != nil && bytes.Compare(kb, end) >= 0 {
			return false
		}
		if seen[k] || e.deleted {
			return true
		}
		if !inRange(kb) {
			return true
		}
		out = append(out, kvpair{key: kb, value: append([]byte(nil), e.value...)})
		return true
	})

	sortKVPairs(out)

	it := &sliceIterator{pairs: out, idx: -1}
	return it, nil
}

type kvpair struct {
	key   []byte
	value []byte
}

func sortKVPairs(pairs []kvpair) {
	// insertion sort: Range results are typically small batches, and this
	// avoids pulling in sort for a two-field struct slice.
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && bytes.Compare(pairs[j-1].key, pairs[j].key) > 0; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
}

type sliceIterator struct {
	pairs []kvpair
	idx   int
}

func (it *sliceIterator) Next() bool {
	it.idx++
	return it.idx < len(it.pairs)
}
func (it *sliceIterator) Key() []byte   { return it.pairs[it.idx].key }
func (it *sliceIterator) Value() []byte { return it.pairs[it.idx].value }
func (it *sliceIterator) Err() error    { return nil }
func (it *sliceIterator) Close()        {}

func (t *txn) Set(key, value []byte) error {
	if err := kv.ValidateKey(key); err != nil {
		return err
	}
	if err := kv.ValidateValue(value); err != nil {
		return err
	}
	t.writes[string(key)] = entry{value: append([]byte(nil), value...)}
	return nil
}

func (t *txn) Clear(key []byte) error {
	t.writes[string(key)] = entry{deleted: true}
	return nil
}

func (t *txn) ClearRange(begin, end []byte) error {
	pivot := ""
	if begin != nil {
		pivot = string(begin)
	}
	var toClear []string
	t.snapshot.Ascend(pivot, func(k string, e entry) bool {
		kb := []byte(k)
		if end != nil && bytes.Compare(kb, end) >= 0 {
			return false
		}
		if begin != nil && bytes.Compare(kb, begin) < 0 {
			return true
		}
		toClear = append(toClear, k)
		return true
	})
	for k := range t.writes {
		kb := []byte(k)
		if begin != nil && bytes.Compare(kb, begin) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		toClear = append(toClear, k)
	}
	for _, k := range toClear {
		t.writes[k] = entry{deleted: true}
	}
	return nil
}

func (t *txn) AtomicAdd(key []byte, delta int64) error {
	cur, ok, err := t.Get(key)
	if err != nil {
		return err
	}
	var v int64
	if ok && len(cur) >= 8 {
		v = int64(binary.LittleEndian.Uint64(cur))
	}
	v += delta
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return t.Set(key, buf)
}

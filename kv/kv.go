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

// Package kv is the external KV-store contract this module is built on:
// an ordered, transactional, versioned key-value mapping with byte-
// lexicographic range reads, atomic little-endian adds, and scoped
// transactions with optimistic serialisable commit. The store itself (e.g.
// FoundationDB, MDBX) is out of scope; this package only
// states the contract and a reference in-memory implementation lives in
// kv/memkv.
//
// Variable naming follows erigon-lib's kv package: tx - transaction, k/v -
// key/value, Ro/Rw - read-only/read-write.
package kv

import "context"

// Getter is the read side of a transaction.
type Getter interface {
	// Get returns the value stored at key, or ok=false if absent.
	Get(key []byte) (value []byte, ok bool, err error)

	// Range iterates keys in [begin, end) in ascending byte order.
	// begin=nil means start-of-keyspace, end=nil means end-of-keyspace.
	Range(begin, end []byte) (Iterator, error)
}

// Putter is the write side of a transaction.
type Putter interface {
	// Set writes value at key, creating or overwriting the entry.
	Set(key, value []byte) error

	// Clear removes key; it is not an error if key is absent.
	Clear(key []byte) error

	// ClearRange removes every key in [begin, end).
	ClearRange(begin, end []byte) error

	// AtomicAdd adds delta to the little-endian int64 stored at key
	// (treating an absent key as zero) and stores the result.
	AtomicAdd(key []byte, delta int64) error
}

// Tx is a read-only, snapshot-isolated transaction.
type Tx interface {
	Getter
}

// RwTx is a read-write transaction. Unique-constraint checks and the
// maintainer mutations they guard participate in the same Tx, so the KV
// store's conflict detection rejects concurrent inserts of the same unique
// value.
type RwTx interface {
	Tx
	Putter
}

// Iterator walks a Range result in ascending key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close()
}

// DB is a scoped-transaction helper over the KV store: every exit path
// either commits or aborts.
type DB interface {
	// View runs f in a read-only, snapshot-isolated transaction.
	View(ctx context.Context, f func(tx Tx) error) error

	// Update runs f in a read-write transaction. On success the
	// transaction commits atomically; on a detected commit conflict (data
	// f read was written concurrently) the KV store retries f from scratch (bounded by the store's own
	// policy), so committed writes are linearised.
	Update(ctx context.Context, f func(tx RwTx) error) error
}

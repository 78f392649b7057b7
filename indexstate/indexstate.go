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

// Package indexstate is the per-index lifecycle manager:
// disabled, writeOnly, readable, stored at a well-known key under the
// schema subspace. It holds no in-process state of its own — callers read
// it fresh per transaction, the way erigon-lib's stage-sync progress keys
// are read fresh rather than cached.
package indexstate

import (
	"context"

	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/tuple"
)

// State is one of the three lifecycle stages an index can be in.
type State byte

const (
	// Disabled indexes are neither maintained nor queryable. This is the
	// implicit state of any index name with no stored state key.
	Disabled State = 0
	// WriteOnly indexes are maintained by every write but never selected
	// by the query planner; this is the transitional state during a build.
	WriteOnly State = 1
	// Readable indexes are maintained and may be selected by the planner.
	Readable State = 2
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case WriteOnly:
		return "writeOnly"
	case Readable:
		return "readable"
	default:
		return "unknown"
	}
}

// Manager reads and writes index state under a fixed subspace, conventionally
// `[schema subspace]/_index_state`.
type Manager struct {
	sub tuple.Subspace
}

// New returns a Manager rooted at sub.
func New(sub tuple.Subspace) *Manager {
	return &Manager{sub: sub}
}

func (m *Manager) key(indexName string) []byte {
	return m.sub.Pack(tuple.Tuple{indexName})
}

// State returns the current state of indexName, defaulting to Disabled if
// no state has ever been recorded for it.
func (m *Manager) State(tx kv.Tx, indexName string) (State, error) {
	v, ok, err := tx.Get(m.key(indexName))
	if err != nil {
		return Disabled, err
	}
	if !ok || len(v) == 0 {
		return Disabled, nil
	}
	return State(v[0]), nil
}

// SetState writes indexName's state within tx.
func (m *Manager) SetState(tx kv.RwTx, indexName string, s State) error {
	return tx.Set(m.key(indexName), []byte{byte(s)})
}

// MakeWriteOnly transitions indexName to WriteOnly, the first step of an
// online build: subsequent writes maintain the index but the planner still
// skips it until MakeReadable.
func (m *Manager) MakeWriteOnly(ctx context.Context, db kv.DB, indexName string) error {
	return db.Update(ctx, func(tx kv.RwTx) error {
		return m.SetState(tx, indexName, WriteOnly)
	})
}

// MakeReadable transitions indexName to Readable, the terminal step of a
// successful online build.
func (m *Manager) MakeReadable(ctx context.Context, db kv.DB, indexName string) error {
	return db.Update(ctx, func(tx kv.RwTx) error {
		return m.SetState(tx, indexName, Readable)
	})
}

// Disable transitions indexName back to Disabled: writes stop maintaining
// it and the planner stops selecting it.
func (m *Manager) Disable(ctx context.Context, db kv.DB, indexName string) error {
	return db.Update(ctx, func(tx kv.RwTx) error {
		return m.SetState(tx, indexName, Disabled)
	})
}

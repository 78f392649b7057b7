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

package indexstate

import (
	"context"
	"testing"

	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/kv/memkv"
	"github.com/erigontech/reclayer/tuple"
	"github.com/stretchr/testify/require"
)

func TestDefaultsToDisabled(t *testing.T) {
	db := memkv.New()
	m := New(tuple.NewSubspace(tuple.Tuple{"_index_state"}))

	var state State
	err := db.View(context.Background(), func(tx kv.Tx) error {
		var err error
		state, err = m.State(tx, "User_email")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, Disabled, state)
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	m := New(tuple.NewSubspace(tuple.Tuple{"_index_state"}))

	require.NoError(t, m.MakeWriteOnly(ctx, db, "User_email"))
	assertState(t, ctx, db, m, "User_email", WriteOnly)

	require.NoError(t, m.MakeReadable(ctx, db, "User_email"))
	assertState(t, ctx, db, m, "User_email", Readable)

	require.NoError(t, m.Disable(ctx, db, "User_email"))
	assertState(t, ctx, db, m, "User_email", Disabled)
}

func assertState(t *testing.T, ctx context.Context, db kv.DB, m *Manager, name string, want State) {
	t.Helper()
	err := db.View(ctx, func(tx kv.Tx) error {
		got, err := m.State(tx, name)
		require.NoError(t, err)
		require.Equal(t, want, got)
		return nil
	})
	require.NoError(t, err)
}

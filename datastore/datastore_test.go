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

package datastore

import (
	"context"
	"testing"

	"github.com/erigontech/reclayer/config"
	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/indexkind"
	"github.com/erigontech/reclayer/indexstate"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/kv/memkv"
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/query"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
	"github.com/stretchr/testify/require"
)

type account struct {
	ID      string
	Email   string
	Balance int64
}

func accountSchema(t *testing.T) *schema.Schema {
	t.Helper()
	entity := &schema.Entity{
		Name:    "account",
		Fields:  []schema.Field{{Name: "ID"}, {Name: "Email"}, {Name: "Balance"}},
		IDPaths: []string{"ID"},
		New:     func() any { return &account{} },
	}
	entity.Indexes = []*schema.IndexDescriptor{
		{
			Name:     "account_email",
			KeyPaths: []string{"Email"},
			Kind:     indexkind.ScalarKind,
			Options:  schema.CommonOptions{Unique: true},
		},
		{
			Name:     "account_balance",
			KeyPaths: []string{"Balance"},
			Kind:     indexkind.ScalarKind,
		},
	}
	sch, err := schema.New(schema.Version{Major: 1}, []*schema.Entity{entity}, nil, nil)
	require.NoError(t, err)
	return sch
}

func newTestStore(t *testing.T) (*DataStore, *memkv.DB) {
	t.Helper()
	db := memkv.New()
	root := layout.NewRoot(tuple.Tuple{"test"})
	sch := accountSchema(t)
	codec := dataaccess.NewCBORCodec()
	ds := New(db, sch, root, codec, config.DefaultDataStoreConfig(), nil, nil)

	ctx := context.Background()
	state := indexstate.New(root.IndexStateSubspace())
	require.NoError(t, state.MakeReadable(ctx, db, "account_email"))
	require.NoError(t, state.MakeReadable(ctx, db, "account_balance"))
	return ds, db
}

func newAccount() any { return &account{} }

func TestSaveFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestStore(t)

	require.NoError(t, ds.Save(ctx, []any{
		&account{ID: "a1", Email: "a1@example.com", Balance: 100},
		&account{ID: "a2", Email: "a2@example.com", Balance: 200},
	}))

	got, ok, err := ds.FetchById(ctx, "account", tuple.Tuple{"a1"}, newAccount)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), got.(*account).Balance)

	all, err := ds.FetchAll(ctx, "account", newAccount)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestFetchUsesIndexAndMatchesPredicate(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestStore(t)

	require.NoError(t, ds.Save(ctx, []any{
		&account{ID: "a1", Email: "a1@example.com", Balance: 50},
		&account{ID: "a2", Email: "a2@example.com", Balance: 150},
		&account{ID: "a3", Email: "a3@example.com", Balance: 250},
	}))

	q := query.Query{
		EntityType: "account",
		Where:      query.FieldPredicate{Path: "Balance", Op: query.Gte, Value: int64(150)},
		Sort:       []query.SortDescriptor{{Path: "Balance"}},
	}
	require.NoError(t, ds.db.View(ctx, func(tx kv.Tx) error {
		plan := query.SelectPlan(ds.sch, ds.root, "account", q.Where, ds.readableWith(tx))
		require.NotNil(t, plan.Index)
		require.Equal(t, "account_balance", plan.Index.Name)
		return nil
	}))
	results, err := ds.Fetch(ctx, q, newAccount)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, int64(150), results[0].(*account).Balance)
	require.Equal(t, int64(250), results[1].(*account).Balance)

	n, err := ds.FetchCount(ctx, q, newAccount)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestSaveRejectsDuplicateUniqueEmail(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestStore(t)

	require.NoError(t, ds.Save(ctx, []any{&account{ID: "a1", Email: "dup@example.com", Balance: 1}}))
	err := ds.Save(ctx, []any{&account{ID: "a2", Email: "dup@example.com", Balance: 2}})
	require.Error(t, err)
	require.True(t, rerr.Is(err, rerr.UniqueViolation))

	// The rejected insert must not have partially applied.
	_, ok, err := ds.FetchById(ctx, "account", tuple.Tuple{"a2"}, newAccount)
	require.NoError(t, err)
	require.False(t, ok)
}

// Two racing saves of distinct ids carrying the same unique value: exactly
// one wins, the loser's unique probe sees the winner's entry after its
// range-conflict retry and fails, and only one record lands.
func TestConcurrentSavesSameUniqueValue(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestStore(t)

	errs := make(chan error, 2)
	for _, id := range []string{"a1", "a2"} {
		id := id
		go func() {
			errs <- ds.Save(ctx, []any{&account{ID: id, Email: "race@example.com", Balance: 1}})
		}()
	}
	var failures []error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	require.True(t, rerr.Is(failures[0], rerr.UniqueViolation))

	n, err := ds.FetchCount(ctx, query.Query{EntityType: "account"}, newAccount)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDeleteRetractsFromIndex(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestStore(t)

	a := &account{ID: "a1", Email: "a1@example.com", Balance: 10}
	require.NoError(t, ds.Save(ctx, []any{a}))
	require.NoError(t, ds.Delete(ctx, []any{a}))

	_, ok, err := ds.FetchById(ctx, "account", tuple.Tuple{"a1"}, newAccount)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := ds.FetchCount(ctx, query.Query{EntityType: "account"}, newAccount)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// The unique index entry must be gone too, so the email is free again.
	require.NoError(t, ds.Save(ctx, []any{&account{ID: "a2", Email: "a1@example.com", Balance: 20}}))
}

func TestDeleteByIdIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestStore(t)
	require.NoError(t, ds.DeleteById(ctx, "account", tuple.Tuple{"ghost"}))
}

func TestExecuteBatchInsertsAndDeletesInOneTransaction(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestStore(t)

	a1 := &account{ID: "a1", Email: "a1@example.com", Balance: 1}
	require.NoError(t, ds.Save(ctx, []any{a1}))

	a2 := &account{ID: "a2", Email: "a2@example.com", Balance: 2}
	require.NoError(t, ds.ExecuteBatch(ctx, []any{a2}, []any{a1}))

	_, ok, err := ds.FetchById(ctx, "account", tuple.Tuple{"a1"}, newAccount)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = ds.FetchById(ctx, "account", tuple.Tuple{"a2"}, newAccount)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClearAllRemovesRecordsAndIndexes(t *testing.T) {
	ctx := context.Background()
	ds, _ := newTestStore(t)

	require.NoError(t, ds.Save(ctx, []any{
		&account{ID: "a1", Email: "a1@example.com", Balance: 1},
		&account{ID: "a2", Email: "a2@example.com", Balance: 2},
	}))

	require.NoError(t, ds.ClearAll(ctx, "account"))

	all, err := ds.FetchAll(ctx, "account", newAccount)
	require.NoError(t, err)
	require.Empty(t, all)

	// account_email is now empty too, so the previously-claimed address is free.
	require.NoError(t, ds.Save(ctx, []any{&account{ID: "a3", Email: "a1@example.com", Balance: 3}}))
}

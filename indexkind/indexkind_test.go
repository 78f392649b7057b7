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
	"testing"

	"github.com/erigontech/reclayer/keyexpr"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/kv/memkv"
	"github.com/erigontech/reclayer/rerr"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
	"github.com/stretchr/testify/require"
)

type cityUser struct {
	ID     string
	City   string
	Email  *string
	Amount float64
}

func idExpr() keyexpr.Expr { return keyexpr.FromPaths([]string{"ID"}) }

func makeMaintainer(t *testing.T, kind schema.IndexKind, desc *schema.IndexDescriptor) schema.IndexMaintainer {
	t.Helper()
	sub := tuple.NewSubspace(tuple.Tuple{"I", desc.Name})
	m, err := kind.MakeMaintainer(desc, sub, idExpr())
	require.NoError(t, err)
	return m
}

func update(t *testing.T, ctx context.Context, db kv.DB, m schema.IndexMaintainer, id tuple.Tuple, old, new any) {
	t.Helper()
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.Update(ctx, id, old, new, tx)
	}))
}

func TestCountFollowsGroupMembership(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	desc := &schema.IndexDescriptor{Name: "cityUser_city_count", KeyPaths: []string{"City"}, Kind: CountKind}
	m := makeMaintainer(t, CountKind, desc)
	cm := m.(*countMaintainer)

	users := []cityUser{
		{ID: "u1", City: "T"}, {ID: "u2", City: "T"}, {ID: "u3", City: "T"},
		{ID: "u4", City: "O"}, {ID: "u5", City: "O"},
	}
	for i := range users {
		update(t, ctx, db, m, tuple.Tuple{users[i].ID}, nil, &users[i])
	}
	assertCount(t, ctx, db, cm, "T", 3)
	assertCount(t, ctx, db, cm, "O", 2)

	// Move one user from T to O.
	moved := users[0]
	moved.City = "O"
	update(t, ctx, db, m, tuple.Tuple{moved.ID}, &users[0], &moved)
	assertCount(t, ctx, db, cm, "T", 2)
	assertCount(t, ctx, db, cm, "O", 3)

	// Delete an O user.
	update(t, ctx, db, m, tuple.Tuple{users[3].ID}, &users[3], nil)
	assertCount(t, ctx, db, cm, "O", 2)
}

func TestCountUnchangedGroupIsNetZero(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	desc := &schema.IndexDescriptor{Name: "cityUser_city_count", KeyPaths: []string{"City"}, Kind: CountKind}
	m := makeMaintainer(t, CountKind, desc)
	cm := m.(*countMaintainer)

	u := cityUser{ID: "u1", City: "T", Amount: 1}
	update(t, ctx, db, m, tuple.Tuple{u.ID}, nil, &u)
	changed := u
	changed.Amount = 2 // non-grouping field change
	update(t, ctx, db, m, tuple.Tuple{u.ID}, &u, &changed)
	assertCount(t, ctx, db, cm, "T", 1)
}

func assertCount(t *testing.T, ctx context.Context, db kv.DB, cm *countMaintainer, city string, want int64) {
	t.Helper()
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		got, err := cm.ReadCount(tx, tuple.Tuple{city})
		require.NoError(t, err)
		require.Equal(t, want, got)
		return nil
	}))
}

func TestSumTracksValueChanges(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	desc := &schema.IndexDescriptor{Name: "cityUser_amount_sum", KeyPaths: []string{"City", "Amount"}, Kind: SumKind}
	m := makeMaintainer(t, SumKind, desc)
	sm := m.(*sumMaintainer)

	a := cityUser{ID: "u1", City: "T", Amount: 10.5}
	b := cityUser{ID: "u2", City: "T", Amount: 4.5}
	update(t, ctx, db, m, tuple.Tuple{a.ID}, nil, &a)
	update(t, ctx, db, m, tuple.Tuple{b.ID}, nil, &b)
	assertSum(t, ctx, db, sm, "T", 15)

	changed := a
	changed.Amount = 20.5
	update(t, ctx, db, m, tuple.Tuple{a.ID}, &a, &changed)
	assertSum(t, ctx, db, sm, "T", 25)

	moved := changed
	moved.City = "O"
	update(t, ctx, db, m, tuple.Tuple{a.ID}, &changed, &moved)
	assertSum(t, ctx, db, sm, "T", 4.5)
	assertSum(t, ctx, db, sm, "O", 20.5)

	update(t, ctx, db, m, tuple.Tuple{b.ID}, &b, nil)
	assertSum(t, ctx, db, sm, "T", 0)
}

func assertSum(t *testing.T, ctx context.Context, db kv.DB, sm *sumMaintainer, city string, want float64) {
	t.Helper()
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		got, err := sm.ReadSum(tx, tuple.Tuple{city})
		require.NoError(t, err)
		require.InDelta(t, want, got, 1e-9)
		return nil
	}))
}

func TestMinMaxReads(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	desc := &schema.IndexDescriptor{Name: "cityUser_amount_min", KeyPaths: []string{"City", "Amount"}, Kind: MinKind}
	m := makeMaintainer(t, MinKind, desc)
	mm := m.(*minMaxMaintainer)

	for _, u := range []cityUser{
		{ID: "u1", City: "T", Amount: 30},
		{ID: "u2", City: "T", Amount: 10},
		{ID: "u3", City: "T", Amount: 20},
	} {
		u := u
		update(t, ctx, db, m, tuple.Tuple{u.ID}, nil, &u)
	}

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		min, ok, err := mm.ReadMin(tx, tuple.Tuple{"T"})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, float64(10), min[0])

		max, ok, err := mm.ReadMax(tx, tuple.Tuple{"T"})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, float64(30), max[0])

		_, ok, err = mm.ReadMin(tx, tuple.Tuple{"nowhere"})
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestScalarUniqueRejectsSecondClaimant(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	email := func(s string) *string { return &s }
	desc := &schema.IndexDescriptor{
		Name:     "cityUser_email",
		KeyPaths: []string{"Email"},
		Kind:     ScalarKind,
		Options:  schema.CommonOptions{Unique: true},
	}
	m := makeMaintainer(t, ScalarKind, desc)

	u1 := cityUser{ID: "u1", Email: email("a@x")}
	update(t, ctx, db, m, tuple.Tuple{u1.ID}, nil, &u1)

	// Re-saving the same id with the same value is fine.
	update(t, ctx, db, m, tuple.Tuple{u1.ID}, &u1, &u1)

	u2 := cityUser{ID: "u2", Email: email("a@x")}
	err := db.Update(ctx, func(tx kv.RwTx) error {
		return m.Update(ctx, tuple.Tuple{u2.ID}, nil, &u2, tx)
	})
	require.Error(t, err)
	require.True(t, rerr.Is(err, rerr.UniqueViolation))

	u2.Email = email("b@x")
	update(t, ctx, db, m, tuple.Tuple{u2.ID}, nil, &u2)
}

func TestScalarSparseSkipsNilValues(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	desc := &schema.IndexDescriptor{
		Name:     "cityUser_email_sparse",
		KeyPaths: []string{"Email"},
		Kind:     ScalarKind,
		Options:  schema.CommonOptions{Sparse: true},
	}
	m := makeMaintainer(t, ScalarKind, desc)

	u := cityUser{ID: "u1"} // Email nil
	update(t, ctx, db, m, tuple.Tuple{u.ID}, nil, &u)

	sub := tuple.NewSubspace(tuple.Tuple{"I", desc.Name})
	begin, end := sub.Range()
	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		it, err := tx.Range(begin, end)
		require.NoError(t, err)
		defer it.Close()
		require.False(t, it.Next(), "sparse index must not store nil values")
		return it.Err()
	}))

	keys, err := m.(schema.KeyComputer).ComputeIndexKeys(tuple.Tuple{u.ID}, &u)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestValidateTypes(t *testing.T) {
	str := reflect.TypeOf("")
	f64 := reflect.TypeOf(float64(0))

	require.NoError(t, ScalarKind.ValidateTypes([]reflect.Type{str}))
	require.NoError(t, SumKind.ValidateTypes([]reflect.Type{str, f64}))
	require.NoError(t, MinKind.ValidateTypes([]reflect.Type{str, f64}))

	err := ScalarKind.ValidateTypes(nil)
	require.True(t, rerr.Is(err, rerr.InvalidTypeCount))

	err = SumKind.ValidateTypes([]reflect.Type{f64})
	require.True(t, rerr.Is(err, rerr.InvalidTypeCount))

	err = SumKind.ValidateTypes([]reflect.Type{str, str})
	require.True(t, rerr.Is(err, rerr.UnsupportedType))
}

func TestRegistryLookup(t *testing.T) {
	for _, id := range []string{"scalar", "count", "sum", "min", "max", "version"} {
		k, ok := Lookup(id)
		require.True(t, ok, id)
		require.Equal(t, id, k.Identifier())
	}
	_, ok := Lookup("fulltext")
	require.False(t, ok)
}

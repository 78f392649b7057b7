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

package builder

import (
	"context"
	"fmt"
	"testing"

	"github.com/erigontech/reclayer/config"
	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/indexkind"
	"github.com/erigontech/reclayer/indexstate"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/kv/memkv"
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
	"github.com/stretchr/testify/require"
)

type buildUser struct {
	ID    string
	Email string
}

func buildUserSchema(t *testing.T) *schema.Schema {
	t.Helper()
	entity := &schema.Entity{
		Name:    "buildUser",
		Fields:  []schema.Field{{Name: "ID"}, {Name: "Email"}},
		IDPaths: []string{"ID"},
		New:     func() any { return &buildUser{} },
	}
	entity.Indexes = []*schema.IndexDescriptor{{
		Name:     "buildUser_email",
		KeyPaths: []string{"Email"},
		Kind:     indexkind.ScalarKind,
	}}
	sch, err := schema.New(schema.Version{Major: 1}, []*schema.Entity{entity}, nil, nil)
	require.NoError(t, err)
	return sch
}

func TestBuilderMakesIndexReadable(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	root := layout.NewRoot(tuple.Tuple{"test"})
	codec := dataaccess.NewCBORCodec()
	sch := buildUserSchema(t)

	for i := 0; i < 25; i++ {
		u := buildUser{ID: fmt.Sprintf("u%02d", i), Email: fmt.Sprintf("u%02d@x.com", i)}
		raw, err := codec.Serialize(&u)
		require.NoError(t, err)
		require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
			return tx.Set(root.RecordKey("buildUser", tuple.Tuple{u.ID}), raw)
		}))
	}

	cfg := config.DefaultBuilderConfig()
	cfg.BatchSize = 4 // force several batches to exercise resumability
	b := New(db, sch, root, codec, cfg, nil)

	require.NoError(t, b.Build(ctx, "buildUser", "buildUser_email", func() any { return &buildUser{} }))

	state := indexstate.New(root.IndexStateSubspace())
	err := db.View(ctx, func(tx kv.Tx) error {
		s, err := state.State(tx, "buildUser_email")
		require.NoError(t, err)
		require.Equal(t, indexstate.Readable, s)
		return nil
	})
	require.NoError(t, err)

	err = db.View(ctx, func(tx kv.Tx) error {
		sub := root.IndexSubspace("buildUser_email")
		begin, end := sub.Range()
		it, err := tx.Range(begin, end)
		require.NoError(t, err)
		defer it.Close()
		n := 0
		for it.Next() {
			n++
		}
		require.Equal(t, 25, n)
		return it.Err()
	})
	require.NoError(t, err)

	// Build progress key is cleared once the index is readable.
	err = db.View(ctx, func(tx kv.Tx) error {
		_, ok, err := tx.Get(root.BuildProgressKey("buildUser_email"))
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestBuilderResumesFromPartialProgress(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	root := layout.NewRoot(tuple.Tuple{"test"})
	codec := dataaccess.NewCBORCodec()
	sch := buildUserSchema(t)

	for i := 0; i < 10; i++ {
		u := buildUser{ID: fmt.Sprintf("u%02d", i), Email: fmt.Sprintf("u%02d@x.com", i)}
		raw, err := codec.Serialize(&u)
		require.NoError(t, err)
		require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
			return tx.Set(root.RecordKey("buildUser", tuple.Tuple{u.ID}), raw)
		}))
	}

	cfg := config.DefaultBuilderConfig()
	cfg.BatchSize = 3
	b := New(db, sch, root, codec, cfg, nil)

	entity, _ := sch.EntityByName("buildUser")
	desc, _ := sch.IndexByName("buildUser_email")
	maintainer, err := desc.Kind.MakeMaintainer(desc, root.IndexSubspace("buildUser_email"), entity.IDExpr())
	require.NoError(t, err)

	recordSub := root.RecordSubspace("buildUser")
	recBegin, recEnd := recordSub.Range()

	// Simulate a crash after the first batch: run one batch manually, persist
	// progress, then stop short of MakeReadable.
	require.NoError(t, b.state.MakeWriteOnly(ctx, db, "buildUser_email"))
	progress, err := b.loadOrInitProgress(ctx, "buildUser", "buildUser_email")
	require.NoError(t, err)
	require.Equal(t, recBegin, progress.Ranges()[0].Begin)
	require.Equal(t, recEnd, progress.Ranges()[0].End)

	head, ok := progress.NextBatch(cfg.BatchSize)
	require.True(t, ok)
	require.NoError(t, b.runBatch(ctx, "buildUser", "buildUser_email", maintainer, func() any { return &buildUser{} }, progress, head))

	// Resume via the public Build entrypoint; it must pick up where the
	// manual batch left off rather than rescanning from the start.
	require.NoError(t, b.Build(ctx, "buildUser", "buildUser_email", func() any { return &buildUser{} }))

	state := indexstate.New(root.IndexStateSubspace())
	err = db.View(ctx, func(tx kv.Tx) error {
		s, err := state.State(tx, "buildUser_email")
		require.NoError(t, err)
		require.Equal(t, indexstate.Readable, s)
		return nil
	})
	require.NoError(t, err)

	err = db.View(ctx, func(tx kv.Tx) error {
		sub := root.IndexSubspace("buildUser_email")
		begin, end := sub.Range()
		it, err := tx.Range(begin, end)
		require.NoError(t, err)
		defer it.Close()
		n := 0
		for it.Next() {
			n++
		}
		require.Equal(t, 10, n)
		return it.Err()
	})
	require.NoError(t, err)
}

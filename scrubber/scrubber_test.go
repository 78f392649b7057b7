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

package scrubber

import (
	"context"
	"testing"

	"github.com/erigontech/reclayer/config"
	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/indexkind"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/kv/memkv"
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
	"github.com/stretchr/testify/require"
)

type scrubUser struct {
	ID    string
	Email string
}

func scrubUserSchema(t *testing.T) *schema.Schema {
	t.Helper()
	entity := &schema.Entity{
		Name:    "scrubUser",
		Fields:  []schema.Field{{Name: "ID"}, {Name: "Email"}},
		IDPaths: []string{"ID"},
		New:     func() any { return &scrubUser{} },
	}
	entity.Indexes = []*schema.IndexDescriptor{{
		Name:     "scrubUser_email",
		KeyPaths: []string{"Email"},
		Kind:     indexkind.ScalarKind,
	}}
	sch, err := schema.New(schema.Version{Major: 1}, []*schema.Entity{entity}, nil, nil)
	require.NoError(t, err)
	return sch
}

func putUser(t *testing.T, ctx context.Context, db kv.DB, root layout.Root, codec dataaccess.Codec, u scrubUser) {
	t.Helper()
	raw, err := codec.Serialize(&u)
	require.NoError(t, err)
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Set(root.RecordKey("scrubUser", tuple.Tuple{u.ID}), raw)
	}))
}

func TestScrubberDetectsAndRepairsDangling(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	root := layout.NewRoot(tuple.Tuple{"test"})
	codec := dataaccess.NewCBORCodec()
	sch := scrubUserSchema(t)

	putUser(t, ctx, db, root, codec, scrubUser{ID: "u1", Email: "a@x.com"})

	entity, _ := sch.EntityByName("scrubUser")
	desc, _ := sch.IndexByName("scrubUser_email")
	maintainer, err := desc.Kind.MakeMaintainer(desc, root.IndexSubspace("scrubUser_email"), entity.IDExpr())
	require.NoError(t, err)

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return maintainer.Scan(ctx, tuple.Tuple{"u1"}, &scrubUser{ID: "u1", Email: "a@x.com"}, tx)
	}))

	// Introduce a dangling entry with no backing record.
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return maintainer.Scan(ctx, tuple.Tuple{"ghost"}, &scrubUser{ID: "ghost", Email: "ghost@x.com"}, tx)
	}))

	cfg := config.DefaultScrubberConfig()
	cfg.AllowRepair = true
	s := New(db, sch, root, codec, cfg, nil, nil)

	res, err := s.Run(ctx, "scrubUser", "scrubUser_email", func() any { return &scrubUser{} })
	require.NoError(t, err)
	require.True(t, res.CompletedSuccessfully)
	require.Equal(t, 1, res.DanglingDetected)
	require.Equal(t, 1, res.DanglingRepaired)
	require.Equal(t, 0, res.MissingDetected)

	// The ghost entry should be gone, the real one untouched.
	err = db.View(ctx, func(tx kv.Tx) error {
		sub := root.IndexSubspace("scrubUser_email")
		begin, end := sub.Range()
		it, err := tx.Range(begin, end)
		require.NoError(t, err)
		defer it.Close()
		n := 0
		for it.Next() {
			n++
		}
		require.Equal(t, 1, n)
		return it.Err()
	})
	require.NoError(t, err)
}

func TestScrubberDetectsMissingIndexEntry(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	root := layout.NewRoot(tuple.Tuple{"test"})
	codec := dataaccess.NewCBORCodec()
	sch := scrubUserSchema(t)

	// Record exists but its index entry was never written.
	putUser(t, ctx, db, root, codec, scrubUser{ID: "u1", Email: "a@x.com"})

	cfg := config.DefaultScrubberConfig()
	cfg.AllowRepair = true
	s := New(db, sch, root, codec, cfg, nil, nil)

	res, err := s.Run(ctx, "scrubUser", "scrubUser_email", func() any { return &scrubUser{} })
	require.NoError(t, err)
	require.True(t, res.CompletedSuccessfully)
	require.Equal(t, 1, res.MissingDetected)
	require.Equal(t, 1, res.MissingRepaired)
	require.Equal(t, 1, res.ItemsScanned)

	err = db.View(ctx, func(tx kv.Tx) error {
		sub := root.IndexSubspace("scrubUser_email")
		begin, end := sub.Range()
		it, err := tx.Range(begin, end)
		require.NoError(t, err)
		defer it.Close()
		require.True(t, it.Next())
		return it.Err()
	})
	require.NoError(t, err)
}

func TestScrubberAggregationIndexSkipsPhase1(t *testing.T) {
	ctx := context.Background()
	db := memkv.New()
	root := layout.NewRoot(tuple.Tuple{"test"})
	codec := dataaccess.NewCBORCodec()

	entity := &schema.Entity{
		Name:    "scrubUser",
		Fields:  []schema.Field{{Name: "ID"}, {Name: "Email"}},
		IDPaths: []string{"ID"},
		New:     func() any { return &scrubUser{} },
	}
	entity.Indexes = []*schema.IndexDescriptor{{
		Name:     "scrubUser_count",
		KeyPaths: []string{"Email"},
		Kind:     indexkind.CountKind,
	}}
	sch, err := schema.New(schema.Version{Major: 1}, []*schema.Entity{entity}, nil, nil)
	require.NoError(t, err)

	putUser(t, ctx, db, root, codec, scrubUser{ID: "u1", Email: "a@x.com"})

	s := New(db, sch, root, codec, config.DefaultScrubberConfig(), nil, nil)
	res, err := s.Run(ctx, "scrubUser", "scrubUser_count", func() any { return &scrubUser{} })
	require.NoError(t, err)
	require.True(t, res.CompletedSuccessfully)
	require.Equal(t, 0, res.DanglingDetected)
	require.Equal(t, 0, res.MissingDetected)
}

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

package main

import (
	"context"
	"fmt"

	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/indexkind"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/kv/memkv"
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/schema"
	"github.com/erigontech/reclayer/tuple"
)

// widget is the bundled demo entity reclayerctl operates against in its
// default (non-production) in-memory mode, so `schema
// describe`/`index build`/`index scrub`/`index
// state` have something concrete to show without requiring an operator to
// wire up their own schema and KV store first.
type widget struct {
	ID       string
	Owner    string
	Quantity int64
}

func demoSchema() *schema.Schema {
	entity := &schema.Entity{
		Name:    "widget",
		Fields:  []schema.Field{{Name: "ID"}, {Name: "Owner"}, {Name: "Quantity"}},
		IDPaths: []string{"ID"},
		New:     func() any { return &widget{} },
	}
	entity.Indexes = []*schema.IndexDescriptor{
		{
			Name:     "widget_owner",
			KeyPaths: []string{"Owner"},
			Kind:     indexkind.ScalarKind,
		},
		{
			Name:     "widget_owner_count",
			KeyPaths: []string{"Owner"},
			Kind:     indexkind.CountKind,
		},
	}
	sch, err := schema.New(schema.Version{Major: 1}, []*schema.Entity{entity}, nil, nil)
	if err != nil {
		panic(err) // the bundled demo schema is a compile-time constant; a failure here is a programming error
	}
	return sch
}

func newDemoRecord() any { return &widget{} }

// seedDemoData populates db with a handful of widget records directly
// (bypassing datastore.Save, so index_state stays Disabled) — the state
// `index build` then has to work from.
func seedDemoData(ctx context.Context, db kv.DB, root layout.Root, codec dataaccess.Codec) error {
	owners := []string{"alice", "bob", "alice", "carol", "bob", "alice"}
	return db.Update(ctx, func(tx kv.RwTx) error {
		for i, owner := range owners {
			w := widget{ID: fmt.Sprintf("w%d", i+1), Owner: owner, Quantity: int64(i + 1)}
			raw, err := codec.Serialize(&w)
			if err != nil {
				return err
			}
			if err := tx.Set(root.RecordKey("widget", tuple.Tuple{w.ID}), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func newDemoStore() (kv.DB, layout.Root) {
	return memkv.New(), layout.NewRoot(tuple.Tuple{"reclayerctl"})
}

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

	"github.com/erigontech/reclayer/builder"
	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/indexstate"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/log"
	"github.com/erigontech/reclayer/scrubber"
	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "index", Short: "Build, scrub, and inspect index state"}
	cmd.AddCommand(newIndexBuildCmd())
	cmd.AddCommand(newIndexScrubCmd())
	cmd.AddCommand(newIndexStateCmd())
	return cmd
}

func newIndexBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <index-name>",
		Short: "Run the online builder against the bundled demo store until the index is readable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			indexName := args[0]

			sch := demoSchema()
			if _, ok := sch.IndexByName(indexName); !ok {
				return fmt.Errorf("unknown index %q", indexName)
			}
			db, root := newDemoStore()
			codec := dataaccess.NewCBORCodec()
			if err := seedDemoData(ctx, db, root, codec); err != nil {
				return err
			}

			b := builder.New(db, sch, root, codec, cfg.Builder, log.Nop())
			if err := b.Build(ctx, "widget", indexName, newDemoRecord); err != nil {
				return err
			}

			state := indexstate.New(root.IndexStateSubspace())
			return reportState(cmd, db, state, indexName)
		},
	}
}

func newIndexScrubCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "scrub <index-name>",
		Short: "Run the online scrubber against a freshly-built demo index and report findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			indexName := args[0]

			sch := demoSchema()
			if _, ok := sch.IndexByName(indexName); !ok {
				return fmt.Errorf("unknown index %q", indexName)
			}
			db, root := newDemoStore()
			codec := dataaccess.NewCBORCodec()
			if err := seedDemoData(ctx, db, root, codec); err != nil {
				return err
			}

			b := builder.New(db, sch, root, codec, cfg.Builder, log.Nop())
			if err := b.Build(ctx, "widget", indexName, newDemoRecord); err != nil {
				return err
			}

			scrubCfg := cfg.Scrubber
			scrubCfg.AllowRepair = repair
			s := scrubber.New(db, sch, root, codec, scrubCfg, log.Nop(), nil)
			result, err := s.Run(ctx, "widget", indexName, newDemoRecord)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "index %s: scanned %d entries / %d items in %s\n",
				result.IndexName, result.EntriesScanned, result.ItemsScanned, result.Elapsed)
			fmt.Fprintf(out, "  dangling: detected=%d repaired=%d\n", result.DanglingDetected, result.DanglingRepaired)
			fmt.Fprintf(out, "  missing:  detected=%d repaired=%d\n", result.MissingDetected, result.MissingRepaired)
			fmt.Fprintf(out, "  completed=%v reason=%q\n", result.CompletedSuccessfully, result.TerminationReason)
			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "repair dangling/missing entries instead of only reporting them")
	return cmd
}

func newIndexStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <index-name>",
		Short: "Print an index's current lifecycle state (disabled/writeOnly/readable)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexName := args[0]
			sch := demoSchema()
			if _, ok := sch.IndexByName(indexName); !ok {
				return fmt.Errorf("unknown index %q", indexName)
			}
			db, root := newDemoStore()
			state := indexstate.New(root.IndexStateSubspace())
			return reportState(cmd, db, state, indexName)
		},
	}
}

func reportState(cmd *cobra.Command, db kv.DB, state *indexstate.Manager, indexName string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var s indexstate.State
	err := db.View(ctx, func(tx kv.Tx) error {
		var err error
		s, err = state.State(tx, indexName)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "index %s: %s\n", indexName, s.String())
	return nil
}

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
	"fmt"
	"net/http"

	"github.com/erigontech/reclayer/adminhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newServeCmd exposes the bundled demo store's index state/progress over
// the adminhttp surface, bound directly to a *pflag.FlagSet the way a
// standalone (non-cobra) admin tool would, rather than cobra's embedded one,
// since --addr here is reclayerctl's only flag that isn't also exposed as a
// persistent or subcommand flag elsewhere.
func newServeCmd() *cobra.Command {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	addr := fs.String("addr", ":8090", "listen address for the admin HTTP surface")

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve index state/progress and /metrics over HTTP for the bundled demo store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			db, root := newDemoStore()
			srv := adminhttp.New(db, root, nil)
			fmt.Fprintf(cmd.OutOrStdout(), "serving admin HTTP on %s\n", *addr)
			return http.ListenAndServe(*addr, srv.Router())
		},
	}
	cmd.Flags().AddFlagSet(fs)
	return cmd
}

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

	"github.com/spf13/cobra"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "schema", Short: "Inspect the active schema"}
	cmd.AddCommand(&cobra.Command{
		Use:   "describe",
		Short: "Print every entity and index in the active schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return describeSchema(cmd)
		},
	})
	return cmd
}

func describeSchema(cmd *cobra.Command) error {
	sch := demoSchema()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "schema version %s\n", sch.Version.String())
	for _, e := range sch.Entities {
		fmt.Fprintf(out, "\nentity %s (id: %v)\n", e.Name, e.IDPaths)
		for _, f := range e.Fields {
			fmt.Fprintf(out, "  field %s", f.Name)
			if len(f.Enum) > 0 {
				fmt.Fprintf(out, " enum%v", f.Enum)
			}
			fmt.Fprintln(out)
		}
		for _, idx := range sch.IndexesFor(e.Name) {
			fmt.Fprintf(out, "  index %s kind=%s keys=%v unique=%v sparse=%v\n",
				idx.Name, idx.Kind.Identifier(), idx.KeyPaths, idx.Options.Unique, idx.Options.Sparse)
		}
	}
	return nil
}

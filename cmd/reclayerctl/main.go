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

// Command reclayerctl is the operational surface for the online builder and
// scrubber: running a build or scrub job and inspecting
// index state/progress outside of a host process.
package main

import (
	"fmt"
	"os"

	"github.com/erigontech/reclayer/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        config.File
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reclayerctl",
		Short: "Operate and inspect a reclayer-managed index over its bundled demo store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (defaults used if absent)")

	root.AddCommand(newSchemaCmd())
	root.AddCommand(newIndexCmd())
	root.AddCommand(newServeCmd())
	return root
}

func loadConfig(path string) (config.File, error) {
	if path == "" {
		return config.DefaultFile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config.File{}, err
	}
	return config.Load(data)
}

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

// Package config holds the typed, defaulted configuration structs for the
// builder, scrubber, and datastore, the way erigon's config3 package does:
// plain Go structs with a Default() constructor, loadable from TOML for
// reclayerctl but just as constructible by hand for library callers.
package config

import (
	"time"

	"github.com/pelletier/go-toml/v2"
)

// BuilderConfig tunes the online index builder.
type BuilderConfig struct {
	// BatchSize is how many records the builder scans and maintains per
	// transaction.
	BatchSize int `toml:"batch_size"`
	// ThrottleDelay is slept between batches to bound write amplification
	// on the live system being built against.
	ThrottleDelay time.Duration `toml:"throttle_delay"`
	// MaxRetries bounds the outer retry loop around a transient KV error,
	// on top of the KV store's own conflict retry.
	MaxRetries int `toml:"max_retries"`
	// RetryDelay is the base backoff delay between outer retries.
	RetryDelay time.Duration `toml:"retry_delay"`
	// ClearFirst, when true, clears the index's subspace before building,
	// the only safe way to repair an aggregation index.
	ClearFirst bool `toml:"clear_first"`
}

// DefaultBuilderConfig returns the builder's documented defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		BatchSize:     1000,
		ThrottleDelay: 10 * time.Millisecond,
		MaxRetries:    5,
		RetryDelay:    100 * time.Millisecond,
	}
}

// ScrubberConfig tunes the online scrubber.
type ScrubberConfig struct {
	AllowRepair bool `toml:"allow_repair"`
	// EntriesScanLimit caps how many index entries (phase 1) or records
	// (phase 2) one scrubber batch scans in its transaction. The scrubber
	// does not read MaxTransactionBytes or TransactionTimeout: batch size is
	// bounded by EntriesScanLimit alone.
	EntriesScanLimit    int           `toml:"entries_scan_limit"`
	MaxTransactionBytes int           `toml:"max_transaction_bytes"`
	TransactionTimeout  time.Duration `toml:"transaction_timeout"`
	ThrottleDelay       time.Duration `toml:"throttle_delay"`
	MaxRetries          int           `toml:"max_retries"`
	RetryDelay          time.Duration `toml:"retry_delay"`
}

// DefaultScrubberConfig returns the scrubber's documented defaults.
func DefaultScrubberConfig() ScrubberConfig {
	return ScrubberConfig{
		AllowRepair:         false,
		EntriesScanLimit:    1000,
		MaxTransactionBytes: 5 << 20,
		TransactionTimeout:  4500 * time.Millisecond,
		ThrottleDelay:       10 * time.Millisecond,
		MaxRetries:          5,
		RetryDelay:          100 * time.Millisecond,
	}
}

// DataStoreConfig tunes the DataStore facade.
type DataStoreConfig struct {
	// MetricsEnabled is carried for callers that assemble a DataStore;
	// neither datastore.New nor reclayerctl reads it. datastore.New takes
	// its metrics.DataStoreDelegate directly.
	MetricsEnabled bool `toml:"metrics_enabled"`
}

// DefaultDataStoreConfig returns the datastore's documented defaults.
func DefaultDataStoreConfig() DataStoreConfig {
	return DataStoreConfig{MetricsEnabled: true}
}

// File is the top-level shape reclayerctl loads from a TOML config file.
type File struct {
	Builder   BuilderConfig   `toml:"builder"`
	Scrubber  ScrubberConfig  `toml:"scrubber"`
	DataStore DataStoreConfig `toml:"datastore"`
}

// DefaultFile returns a File populated entirely with documented defaults.
func DefaultFile() File {
	return File{
		Builder:   DefaultBuilderConfig(),
		Scrubber:  DefaultScrubberConfig(),
		DataStore: DefaultDataStoreConfig(),
	}
}

// Load decodes a TOML config file, starting from DefaultFile and overlaying
// whatever the file specifies.
func Load(data []byte) (File, error) {
	f := DefaultFile()
	if err := toml.Unmarshal(data, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

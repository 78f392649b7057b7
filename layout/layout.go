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

// Package layout is the single place the on-disk key layout is expressed, so
// datastore, builder, scrubber, and query all agree on where records,
// indexes, state, and progress live under one root subspace:
//
//	S / "R" / entityType / id...                                  records
//	S / "I" / indexName / fieldValues... / id...                  indexes
//	S / "_index_state" / indexName = stateByte                    index state
//	S / "I" / "_progress" / indexName = serialized RangeSet        build progress
//	S / "I" / "_scrub_progress" / indexName / phase = RangeSet     scrub progress
package layout

import "github.com/erigontech/reclayer/tuple"

// Root wraps the configured root subspace S and derives every other
// subspace/key from it.
type Root struct {
	S tuple.Subspace
}

// NewRoot returns a Root over the prefix tuple t.
func NewRoot(t tuple.Tuple) Root {
	return Root{S: tuple.NewSubspace(t)}
}

// RecordSubspace is where entityType's records live, keyed by id.
func (r Root) RecordSubspace(entityType string) tuple.Subspace {
	return r.S.Sub(tuple.Tuple{"R", entityType})
}

// RecordKey packs the full key for one record.
func (r Root) RecordKey(entityType string, id tuple.Tuple) []byte {
	return r.RecordSubspace(entityType).Pack(id)
}

// IndexSubspace is where indexName's entries live (scalar/aggregation alike);
// this is the subspace handed to IndexKind.MakeMaintainer.
func (r Root) IndexSubspace(indexName string) tuple.Subspace {
	return r.S.Sub(tuple.Tuple{"I", indexName})
}

// IndexStateSubspace holds the per-index lifecycle byte, keyed by index name.
func (r Root) IndexStateSubspace() tuple.Subspace {
	return r.S.Sub(tuple.Tuple{"_index_state"})
}

// BuildProgressKey is where the online builder persists its RangeSet.
func (r Root) BuildProgressKey(indexName string) []byte {
	return r.S.Sub(tuple.Tuple{"I", "_progress"}).Pack(tuple.Tuple{indexName})
}

// ScrubProgressKey is where the scrubber persists its per-phase RangeSet.
func (r Root) ScrubProgressKey(indexName, phase string) []byte {
	return r.S.Sub(tuple.Tuple{"I", "_scrub_progress"}).Pack(tuple.Tuple{indexName, phase})
}

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

package kv

import (
	"github.com/c2h5oh/datasize"
	"github.com/erigontech/reclayer/rerr"
)

// KeyMaxSize and ValueMaxSize are the key/value size ceilings assumed of
// the backing KV store (FoundationDB's own limits); DataStore rejects an
// oversized key or value before ever issuing the write.
var (
	KeyMaxSize   = 10_000 * datasize.B
	ValueMaxSize = 100_000 * datasize.B
)

// ValidateKey returns a KeyTooLarge error if key exceeds KeyMaxSize.
func ValidateKey(key []byte) error {
	if datasize.ByteSize(len(key)) > KeyMaxSize {
		return rerr.New(rerr.KeyTooLarge, "key is %s, limit is %s", datasize.ByteSize(len(key)).String(), KeyMaxSize.String())
	}
	return nil
}

// ValidateValue returns a ValueTooLarge error if value exceeds ValueMaxSize.
func ValidateValue(value []byte) error {
	if datasize.ByteSize(len(value)) > ValueMaxSize {
		return rerr.New(rerr.ValueTooLarge, "value is %s, limit is %s", datasize.ByteSize(len(value)).String(), ValueMaxSize.String())
	}
	return nil
}

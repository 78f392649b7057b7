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

package dataaccess

import (
	"github.com/erigontech/reclayer/rerr"
	"github.com/klauspost/compress/s2"
	"github.com/ugorji/go/codec"
)

// Codec is the opaque record serialisation contract: self-consistent
// and stable across restarts, nothing more is assumed of it by the rest of
// the module.
type Codec interface {
	Serialize(record any) ([]byte, error)
	Deserialize(data []byte, out any) error
}

// compressionThreshold is the payload size above which CBORCodec applies s2
// compression; small payloads aren't worth the header overhead.
const compressionThreshold = 4096

const (
	flagRaw        byte = 0
	flagCompressed byte = 1
)

var cborHandle = &codec.CborHandle{}

// CBORCodec is the default Codec: CBOR via ugorji/go/codec, with payloads
// larger than compressionThreshold transparently s2-compressed to stay
// clear of the KV store's ~100KB value limit.
type CBORCodec struct{}

func NewCBORCodec() *CBORCodec { return &CBORCodec{} }

func (CBORCodec) Serialize(record any) ([]byte, error) {
	var raw []byte
	enc := codec.NewEncoderBytes(&raw, cborHandle)
	if err := enc.Encode(record); err != nil {
		return nil, rerr.Wrap(rerr.DeserializationFailed, err, "cbor encode")
	}
	if len(raw) <= compressionThreshold {
		return append([]byte{flagRaw}, raw...), nil
	}
	compressed := s2.Encode(nil, raw)
	return append([]byte{flagCompressed}, compressed...), nil
}

func (CBORCodec) Deserialize(data []byte, out any) error {
	if len(data) == 0 {
		return rerr.New(rerr.DeserializationFailed, "empty payload")
	}
	flag, body := data[0], data[1:]
	var raw []byte
	switch flag {
	case flagRaw:
		raw = body
	case flagCompressed:
		decoded, err := s2.Decode(nil, body)
		if err != nil {
			return rerr.Wrap(rerr.DeserializationFailed, err, "s2 decode")
		}
		raw = decoded
	default:
		return rerr.New(rerr.DeserializationFailed, "unknown codec flag %#x", flag)
	}
	dec := codec.NewDecoderBytes(raw, cborHandle)
	if err := dec.Decode(out); err != nil {
		return rerr.Wrap(rerr.DeserializationFailed, err, "cbor decode")
	}
	return nil
}

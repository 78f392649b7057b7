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

package dataaccess_test

import (
	"strings"
	"testing"

	"github.com/erigontech/reclayer/dataaccess"
	"github.com/erigontech/reclayer/keyexpr"
	"github.com/erigontech/reclayer/rerr"
	"github.com/stretchr/testify/require"
)

type Address struct {
	City string
}

type User struct {
	ID      string
	Email   string
	Age     int32
	Address Address
	Tags    []string
}

func TestExtractFieldSimple(t *testing.T) {
	u := User{ID: "u1", Email: "a@x.com", Age: 30}
	el, err := dataaccess.ExtractField(u, "Email")
	require.NoError(t, err)
	require.Equal(t, "a@x.com", el[0])
}

func TestExtractFieldNested(t *testing.T) {
	u := User{Address: Address{City: "Metropolis"}}
	el, err := dataaccess.ExtractField(u, "Address.City")
	require.NoError(t, err)
	require.Equal(t, "Metropolis", el[0])
}

func TestExtractFieldIndexed(t *testing.T) {
	u := User{Tags: []string{"a", "b", "c"}}
	el, err := dataaccess.ExtractField(u, "Tags[1]")
	require.NoError(t, err)
	require.Equal(t, "b", el[0])
}

func TestExtractFieldNotFound(t *testing.T) {
	u := User{}
	_, err := dataaccess.ExtractField(u, "Nope")
	require.Error(t, err)
	require.True(t, rerr.Is(err, rerr.FieldNotFound))
}

func TestEvaluateConcatenate(t *testing.T) {
	u := User{Email: "a@x.com", Age: 30}
	expr := keyexpr.Concatenate{Exprs: []keyexpr.Expr{
		keyexpr.Field{Path: "Email"},
		keyexpr.Field{Path: "Age"},
	}}
	got, err := dataaccess.Evaluate(u, expr)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", got[0])
	require.Equal(t, int64(30), got[1])
}

func TestCBORCodecRoundTrip(t *testing.T) {
	c := dataaccess.NewCBORCodec()
	u := User{ID: "u1", Email: "a@x.com", Age: 30, Tags: []string{"x", "y"}}
	b, err := c.Serialize(u)
	require.NoError(t, err)

	var out User
	require.NoError(t, c.Deserialize(b, &out))
	require.Equal(t, u, out)
}

func TestCBORCodecCompressesLargePayloads(t *testing.T) {
	c := dataaccess.NewCBORCodec()
	u := User{ID: "big", Email: strings.Repeat("x", 8192)}
	b, err := c.Serialize(u)
	require.NoError(t, err)
	require.Equal(t, byte(1), b[0], "expected compressed flag for payload above threshold")

	var out User
	require.NoError(t, c.Deserialize(b, &out))
	require.Equal(t, u, out)
}

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

package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/kv/memkv"
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/rangeset"
	"github.com/erigontech/reclayer/tuple"
	"github.com/stretchr/testify/require"
)

func TestHealthz(t *testing.T) {
	db := memkv.New()
	root := layout.NewRoot(tuple.Tuple{"t"})
	srv := New(db, root, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIndexStateDefaultsToDisabled(t *testing.T) {
	db := memkv.New()
	root := layout.NewRoot(tuple.Tuple{"t"})
	srv := New(db, root, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index/widget_owner/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp indexStateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "widget_owner", resp.Index)
	require.Equal(t, "disabled", resp.State)
}

func TestIndexProgressReportsRemainingRanges(t *testing.T) {
	db := memkv.New()
	root := layout.NewRoot(tuple.Tuple{"t"})
	ctx := context.Background()

	set := rangeset.From([]byte("a"), []byte("z"))
	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Set(root.BuildProgressKey("widget_owner"), rangeset.Serialize(set))
	}))

	srv := New(db, root, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index/widget_owner/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp progressResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 1, resp.BuildRemaining)
	require.Equal(t, 0, resp.ScrubPhase1Left)
}

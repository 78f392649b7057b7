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

// Package adminhttp is the read-only operational surface over a running
// store: index lifecycle state and builder/scrubber progress, plus
// the Prometheus /metrics endpoint, over the tiny chi router erigon itself
// uses for its own admin/debug HTTP surfaces (rpcdaemon, diagnostics).
//
// Every handler here only reads; mutating an index's state or kicking off a
// build/scrub run is reclayerctl's job (cmd/reclayerctl), not this server's.
package adminhttp

import (
	"encoding/json"
	"net/http"

	"github.com/erigontech/reclayer/indexstate"
	"github.com/erigontech/reclayer/kv"
	"github.com/erigontech/reclayer/layout"
	"github.com/erigontech/reclayer/rangeset"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes index state and build/scrub progress for a single
// DataStore's backing db/root/schema over HTTP.
type Server struct {
	db    kv.DB
	root  layout.Root
	state *indexstate.Manager
	reg   *prometheus.Registry
}

// New returns a Server. reg may be nil, in which case /metrics reports an
// empty registry rather than panicking on an unset collector.
func New(db kv.DB, root layout.Root, reg *prometheus.Registry) *Server {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Server{db: db, root: root, state: indexstate.New(root.IndexStateSubspace()), reg: reg}
}

// Router builds the chi mux; callers embed it under their own prefix or
// hand it straight to http.ListenAndServe.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/index/{name}/state", s.handleIndexState)
	r.Get("/index/{name}/progress", s.handleIndexProgress)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type indexStateResponse struct {
	Index string `json:"index"`
	State string `json:"state"`
}

func (s *Server) handleIndexState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var st indexstate.State
	err := s.db.View(r.Context(), func(tx kv.Tx) error {
		var err error
		st, err = s.state.State(tx, name)
		return err
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, indexStateResponse{Index: name, State: st.String()})
}

type progressResponse struct {
	Index           string `json:"index"`
	BuildRemaining  int    `json:"buildRangesRemaining"`
	ScrubPhase1Left int    `json:"scrubPhase1RangesRemaining"`
	ScrubPhase2Left int    `json:"scrubPhase2RangesRemaining"`
}

// handleIndexProgress reports how many ranges remain in each of the three
// RangeSets a build/scrub may have in flight for this index: a freshly
// Readable, never-scrubbed index reports all-zero, not absence, since an
// exhausted RangeSet's progress key is deleted by design.
func (s *Server) handleIndexProgress(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	resp := progressResponse{Index: name}
	err := s.db.View(r.Context(), func(tx kv.Tx) error {
		if n, err := remainingRanges(tx, s.root.BuildProgressKey(name)); err != nil {
			return err
		} else {
			resp.BuildRemaining = n
		}
		if n, err := remainingRanges(tx, s.root.ScrubProgressKey(name, "phase1")); err != nil {
			return err
		} else {
			resp.ScrubPhase1Left = n
		}
		if n, err := remainingRanges(tx, s.root.ScrubProgressKey(name, "phase2")); err != nil {
			return err
		} else {
			resp.ScrubPhase2Left = n
		}
		return nil
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func remainingRanges(tx kv.Tx, key []byte) (int, error) {
	v, ok, err := tx.Get(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	set, err := rangeset.Deserialize(v)
	if err != nil {
		return 0, err
	}
	return set.Len(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

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

// Package metrics is the concrete realisation of the store's metrics
// hooks: a
// DataStore delegate and a scrubber counter set, both backed by
// prometheus/client_golang. Every method here must be side-effect-only and
// non-blocking — no I/O, just counter/histogram updates.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DataStoreDelegate receives completion notifications, success or failure,
// dimensioned by item type, for DataStore's fetch, save, delete and batch
// operations; FetchCount and ClearAll report nothing to it.
type DataStoreDelegate interface {
	DidSave(itemType string, count int, d time.Duration)
	DidFetch(itemType string, count int, d time.Duration)
	DidDelete(itemType string, count int, d time.Duration)
	DidExecuteBatch(insertCount, deleteCount int, d time.Duration)
	DidFailSave(itemType string, err error)
	DidFailFetch(itemType string, err error)
	DidFailDelete(itemType string, err error)
	DidFailExecuteBatch(err error)
	// DidFallBackToScan fires whenever the planner could not use an index
	// (e.g. it was not Readable) and used a full type scan instead.
	DidFallBackToScan(itemType string)
	DidUseIndex(itemType, indexName string)
}

// Prometheus is the default DataStoreDelegate: each method updates a
// registered counter/histogram pair, mirroring the counter-per-outcome
// style erigon-lib's kv package uses for its own DB metrics.
type Prometheus struct {
	saveOK, fetchOK, deleteOK       *prometheus.CounterVec
	saveFail, fetchFail, deleteFail *prometheus.CounterVec
	batchOK, batchFail              prometheus.Counter
	saveDur, fetchDur, deleteDur    *prometheus.HistogramVec
	batchDur                        prometheus.Histogram
	fallbackScans, indexUses        *prometheus.CounterVec
}

// NewPrometheus registers a fresh set of collectors on reg and returns the
// delegate bound to them. Pass prometheus.DefaultRegisterer for the global
// registry, or a dedicated *prometheus.Registry in tests.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		saveOK:   counterVec(reg, "reclayer_datastore_save_total", "Successful saves.", "item_type"),
		fetchOK:  counterVec(reg, "reclayer_datastore_fetch_total", "Successful fetches.", "item_type"),
		deleteOK: counterVec(reg, "reclayer_datastore_delete_total", "Successful deletes.", "item_type"),

		saveFail:   counterVec(reg, "reclayer_datastore_save_failed_total", "Failed saves.", "item_type"),
		fetchFail:  counterVec(reg, "reclayer_datastore_fetch_failed_total", "Failed fetches.", "item_type"),
		deleteFail: counterVec(reg, "reclayer_datastore_delete_failed_total", "Failed deletes.", "item_type"),

		batchOK:   counter(reg, "reclayer_datastore_batch_total", "Successful batch executions."),
		batchFail: counter(reg, "reclayer_datastore_batch_failed_total", "Failed batch executions."),

		saveDur:   histogramVec(reg, "reclayer_datastore_save_duration_seconds", "Save latency.", "item_type"),
		fetchDur:  histogramVec(reg, "reclayer_datastore_fetch_duration_seconds", "Fetch latency.", "item_type"),
		deleteDur: histogramVec(reg, "reclayer_datastore_delete_duration_seconds", "Delete latency.", "item_type"),
		batchDur:  histogram(reg, "reclayer_datastore_batch_duration_seconds", "Batch execution latency."),

		fallbackScans: counterVec(reg, "reclayer_planner_fallback_scan_total", "Queries that fell back to a full type scan.", "item_type"),
		indexUses:     counterVec(reg, "reclayer_planner_index_used_total", "Queries that used an index.", "item_type", "index"),
	}
	return p
}

func counter(reg prometheus.Registerer, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	reg.MustRegister(c)
	return c
}

func counterVec(reg prometheus.Registerer, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	reg.MustRegister(c)
	return c
}

func histogram(reg prometheus.Registerer, name, help string) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help})
	reg.MustRegister(h)
	return h
}

func histogramVec(reg prometheus.Registerer, name, help string, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help}, labels)
	reg.MustRegister(h)
	return h
}

func (p *Prometheus) DidSave(itemType string, count int, d time.Duration) {
	p.saveOK.WithLabelValues(itemType).Add(float64(count))
	p.saveDur.WithLabelValues(itemType).Observe(d.Seconds())
}
func (p *Prometheus) DidFetch(itemType string, count int, d time.Duration) {
	p.fetchOK.WithLabelValues(itemType).Add(float64(count))
	p.fetchDur.WithLabelValues(itemType).Observe(d.Seconds())
}
func (p *Prometheus) DidDelete(itemType string, count int, d time.Duration) {
	p.deleteOK.WithLabelValues(itemType).Add(float64(count))
	p.deleteDur.WithLabelValues(itemType).Observe(d.Seconds())
}
func (p *Prometheus) DidExecuteBatch(insertCount, deleteCount int, d time.Duration) {
	p.batchOK.Add(1)
	p.batchDur.Observe(d.Seconds())
}
func (p *Prometheus) DidFailSave(itemType string, err error) {
	p.saveFail.WithLabelValues(itemType).Inc()
}
func (p *Prometheus) DidFailFetch(itemType string, err error) {
	p.fetchFail.WithLabelValues(itemType).Inc()
}
func (p *Prometheus) DidFailDelete(itemType string, err error) {
	p.deleteFail.WithLabelValues(itemType).Inc()
}
func (p *Prometheus) DidFailExecuteBatch(err error) { p.batchFail.Add(1) }
func (p *Prometheus) DidFallBackToScan(itemType string) {
	p.fallbackScans.WithLabelValues(itemType).Inc()
}
func (p *Prometheus) DidUseIndex(itemType, indexName string) {
	p.indexUses.WithLabelValues(itemType, indexName).Inc()
}

// Nop discards every notification; the DataStore default when no delegate is
// configured.
type Nop struct{}

func (Nop) DidSave(string, int, time.Duration)      {}
func (Nop) DidFetch(string, int, time.Duration)     {}
func (Nop) DidDelete(string, int, time.Duration)    {}
func (Nop) DidExecuteBatch(int, int, time.Duration) {}
func (Nop) DidFailSave(string, error)               {}
func (Nop) DidFailFetch(string, error)              {}
func (Nop) DidFailDelete(string, error)             {}
func (Nop) DidFailExecuteBatch(error)               {}
func (Nop) DidFallBackToScan(string)                {}
func (Nop) DidUseIndex(string, string)              {}

// ScrubberDelegate receives the counters the scrubber updates as it scans:
// entries/items scanned and dangling/missing detected/repaired,
// dimensioned by index and item type, plus a duration timer per run.
type ScrubberDelegate interface {
	EntriesScanned(indexName string, n int)
	ItemsScanned(itemType string, n int)
	DanglingDetected(indexName string, n int)
	DanglingRepaired(indexName string, n int)
	MissingDetected(indexName string, n int)
	MissingRepaired(indexName string, n int)
	RunDuration(indexName string, d time.Duration)
}

// PrometheusScrubber is the default ScrubberDelegate.
type PrometheusScrubber struct {
	entries, items                     *prometheus.CounterVec
	danglingDetected, danglingRepaired *prometheus.CounterVec
	missingDetected, missingRepaired   *prometheus.CounterVec
	duration                           *prometheus.HistogramVec
}

// NewPrometheusScrubber registers the scrubber's collectors on reg.
func NewPrometheusScrubber(reg prometheus.Registerer) *PrometheusScrubber {
	return &PrometheusScrubber{
		entries:          counterVec(reg, "reclayer_scrubber_entries_scanned_total", "Index entries scanned.", "index"),
		items:            counterVec(reg, "reclayer_scrubber_items_scanned_total", "Records scanned.", "item_type"),
		danglingDetected: counterVec(reg, "reclayer_scrubber_dangling_detected_total", "Dangling index entries detected.", "index"),
		danglingRepaired: counterVec(reg, "reclayer_scrubber_dangling_repaired_total", "Dangling index entries repaired.", "index"),
		missingDetected:  counterVec(reg, "reclayer_scrubber_missing_detected_total", "Missing index entries detected.", "index"),
		missingRepaired:  counterVec(reg, "reclayer_scrubber_missing_repaired_total", "Missing index entries repaired.", "index"),
		duration:         histogramVec(reg, "reclayer_scrubber_run_duration_seconds", "Scrub run duration.", "index"),
	}
}

func (p *PrometheusScrubber) EntriesScanned(indexName string, n int) {
	p.entries.WithLabelValues(indexName).Add(float64(n))
}
func (p *PrometheusScrubber) ItemsScanned(itemType string, n int) {
	p.items.WithLabelValues(itemType).Add(float64(n))
}
func (p *PrometheusScrubber) DanglingDetected(indexName string, n int) {
	p.danglingDetected.WithLabelValues(indexName).Add(float64(n))
}
func (p *PrometheusScrubber) DanglingRepaired(indexName string, n int) {
	p.danglingRepaired.WithLabelValues(indexName).Add(float64(n))
}
func (p *PrometheusScrubber) MissingDetected(indexName string, n int) {
	p.missingDetected.WithLabelValues(indexName).Add(float64(n))
}
func (p *PrometheusScrubber) MissingRepaired(indexName string, n int) {
	p.missingRepaired.WithLabelValues(indexName).Add(float64(n))
}
func (p *PrometheusScrubber) RunDuration(indexName string, d time.Duration) {
	p.duration.WithLabelValues(indexName).Observe(d.Seconds())
}

// NopScrubber discards every notification.
type NopScrubber struct{}

func (NopScrubber) EntriesScanned(string, int)        {}
func (NopScrubber) ItemsScanned(string, int)          {}
func (NopScrubber) DanglingDetected(string, int)      {}
func (NopScrubber) DanglingRepaired(string, int)      {}
func (NopScrubber) MissingDetected(string, int)       {}
func (NopScrubber) MissingRepaired(string, int)       {}
func (NopScrubber) RunDuration(string, time.Duration) {}

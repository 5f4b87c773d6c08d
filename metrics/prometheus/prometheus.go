// Copyright 2025 The arena Authors
// This file is part of the arena library.
//
// The arena library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The arena library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the arena library. If not, see <http://www.gnu.org/licenses/>.

// Package prometheus renders collector snapshots in the Prometheus text
// exposition format. The collector keeps snapshot-style counters that may be
// reset; the exposer converts them to deltas over its previous scrape so the
// exported series stay monotonically non-decreasing.
package prometheus

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/drawnofwar/arena/metrics"
)

// Exposer renders a Collector in Prometheus text format. One Exposer should
// serve one scrape endpoint; it carries the previous-scrape counter state.
type Exposer struct {
	mu        sync.Mutex
	collector *metrics.Collector

	// previous raw readings and accumulated monotonic exports
	prevHits, prevMisses int64
	hits, misses         int64
}

// NewExposer wraps the given collector. The collector is injected rather than
// discovered through package state, so tests can run exposers side by side.
func NewExposer(c *metrics.Collector) *Exposer {
	return &Exposer{collector: c}
}

// ServeHTTP implements http.Handler for the metrics boundary.
func (e *Exposer) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprint(w, e.Render())
}

// Render produces the full exposition document.
func (e *Exposer) Render() string {
	snap := e.collector.Snapshot()

	e.mu.Lock()
	// Delta-increment against the last scrape; a collector reset shows up as
	// a reading below the previous one and contributes nothing.
	e.hits += nonNegative(snap.CacheHits - e.prevHits)
	e.misses += nonNegative(snap.CacheMisses - e.prevMisses)
	e.prevHits, e.prevMisses = snap.CacheHits, snap.CacheMisses
	hits, misses := e.hits, e.misses
	e.mu.Unlock()

	var b strings.Builder
	writeJobGauge(&b, snap)
	writeGauge(&b, "queue_cache_hit_rate", "Ratio of cache hits to total lookups.", fmt.Sprintf("%g", snap.HitRate))
	writeCounter(&b, "queue_cache_hits_total", "Total generation requests served from the result cache.", hits)
	writeCounter(&b, "queue_cache_misses_total", "Total generation requests not present in the result cache.", misses)
	writeSummary(&b, "queue_job_duration_milliseconds", "Job processing duration from start to terminal state.", snap.JobDuration)
	writeSummary(&b, "queue_wait_time_milliseconds", "Time jobs spend queued before a worker picks them up.", snap.QueueWait)
	writeGauge(&b, "queue_active_users", "Submitters with at least one pending or processing job.", fmt.Sprintf("%d", snap.ActiveUsers))
	return b.String()
}

func writeJobGauge(b *strings.Builder, snap metrics.Snapshot) {
	fmt.Fprintf(b, "# HELP queue_jobs_total Current number of jobs by state.\n")
	fmt.Fprintf(b, "# TYPE queue_jobs_total gauge\n")
	states := make([]string, 0, len(snap.Jobs))
	for state := range snap.Jobs {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Fprintf(b, "queue_jobs_total{state=%q} %d\n", state, snap.Jobs[metrics.JobState(state)])
	}
}

func writeGauge(b *strings.Builder, name, help, value string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %s\n", name, value)
}

func writeCounter(b *strings.Builder, name, help string, value int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)
	fmt.Fprintf(b, "%s %d\n", name, value)
}

func writeSummary(b *strings.Builder, name, help string, d metrics.DistributionSnapshot) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s summary\n", name)
	fmt.Fprintf(b, "%s{quantile=\"0.95\"} %g\n", name, d.P95)
	fmt.Fprintf(b, "%s_sum %d\n", name, d.Sum)
	fmt.Fprintf(b, "%s_count %d\n", name, d.Count)
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

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

// Package metrics tracks generation queue health in process memory: job
// counts by state, cache effectiveness and bounded latency distributions.
// The collector is injected into whoever needs it (workers, the admission
// pool, the Prometheus exposer); there is no global registry discovery.
package metrics

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	gometrics "github.com/rcrowley/go-metrics"
)

// SampleReservoirSize bounds the latency distributions to the most recent
// samples so summaries track current behaviour rather than process lifetime.
const SampleReservoirSize = 1000

// JobState is the coarse lifecycle bucket a job is counted under. Retrying
// jobs are counted as processing: a retry is an attempt in flight.
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
)

type jobRecord struct {
	state       JobState
	submitter   string
	submittedAt time.Time
	startedAt   time.Time
}

// Collector accumulates queue metrics. All methods are safe for concurrent
// use; counters are atomic underneath, distributions take a short lock.
type Collector struct {
	mu   sync.Mutex
	jobs map[string]*jobRecord

	// live jobs per submitter, backing the active-user gauge
	perSubmitter map[string]int
	submitters   mapset.Set[string]

	registry    gometrics.Registry
	cacheHits   gometrics.Counter
	cacheMisses gometrics.Counter
	stateGauges map[JobState]gometrics.Gauge
	activeUsers gometrics.Gauge
	jobDuration gometrics.Histogram
	queueWait   gometrics.Histogram
}

// NewCollector constructs an empty collector with its own metrics registry.
func NewCollector() *Collector {
	c := &Collector{registry: gometrics.NewRegistry()}
	c.init()
	return c
}

func (c *Collector) init() {
	c.jobs = make(map[string]*jobRecord)
	c.perSubmitter = make(map[string]int)
	c.submitters = mapset.NewSet[string]()

	c.cacheHits = gometrics.GetOrRegisterCounter("queue/cache/hits", c.registry)
	c.cacheMisses = gometrics.GetOrRegisterCounter("queue/cache/misses", c.registry)
	c.activeUsers = gometrics.GetOrRegisterGauge("queue/users/active", c.registry)
	c.stateGauges = make(map[JobState]gometrics.Gauge)
	for _, state := range []JobState{StatePending, StateProcessing, StateCompleted, StateFailed} {
		c.stateGauges[state] = gometrics.GetOrRegisterGauge("queue/jobs/"+string(state), c.registry)
	}
	c.jobDuration = gometrics.GetOrRegisterHistogram("queue/job/duration", c.registry, NewBoundedSample(SampleReservoirSize))
	c.queueWait = gometrics.GetOrRegisterHistogram("queue/job/wait", c.registry, NewBoundedSample(SampleReservoirSize))
}

// Reset drops all accumulated state. Exposers that need monotonic counters
// across a reset handle the discontinuity themselves.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.UnregisterAll()
	c.init()
}

// JobSubmitted registers a new job in the pending state.
func (c *Collector) JobSubmitted(jobID, submitterID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, known := c.jobs[jobID]; known {
		return
	}
	c.jobs[jobID] = &jobRecord{state: StatePending, submitter: submitterID, submittedAt: at}
	c.stateGauges[StatePending].Update(c.countLocked(StatePending))
	if c.perSubmitter[submitterID] == 0 {
		c.submitters.Add(submitterID)
	}
	c.perSubmitter[submitterID]++
	c.activeUsers.Update(int64(c.submitters.Cardinality()))
}

// JobStarted moves a job to processing and records its queue wait. Samples
// with negative wait (clock skew between the submitting and the processing
// host) are discarded rather than clamped.
func (c *Collector) JobStarted(jobID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, known := c.jobs[jobID]
	if !known || rec.state != StatePending {
		return
	}
	rec.state = StateProcessing
	rec.startedAt = at
	if wait := at.Sub(rec.submittedAt); wait >= 0 {
		c.queueWait.Update(wait.Milliseconds())
	}
	c.stateGauges[StatePending].Update(c.countLocked(StatePending))
	c.stateGauges[StateProcessing].Update(c.countLocked(StateProcessing))
}

// JobCompleted moves a job to completed and records its processing duration.
func (c *Collector) JobCompleted(jobID string, at time.Time) {
	c.terminal(jobID, StateCompleted, at, true)
}

// JobFailed moves a job to failed. No duration sample is recorded.
func (c *Collector) JobFailed(jobID string, at time.Time) {
	c.terminal(jobID, StateFailed, at, false)
}

func (c *Collector) terminal(jobID string, to JobState, at time.Time, recordDuration bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, known := c.jobs[jobID]
	if !known {
		return
	}
	from := rec.state
	// Terminal records are not retained; only live jobs are tracked per id.
	delete(c.jobs, jobID)
	if recordDuration && !rec.startedAt.IsZero() {
		if d := at.Sub(rec.startedAt); d >= 0 {
			c.jobDuration.Update(d.Milliseconds())
		}
	}
	c.stateGauges[from].Update(c.countLocked(from))
	c.stateGauges[to].Update(c.stateGauges[to].Value() + 1)

	c.perSubmitter[rec.submitter]--
	if c.perSubmitter[rec.submitter] <= 0 {
		delete(c.perSubmitter, rec.submitter)
		c.submitters.Remove(rec.submitter)
	}
	c.activeUsers.Update(int64(c.submitters.Cardinality()))
}

// CacheHit increments the cache hit counter.
func (c *Collector) CacheHit() { c.cacheHits.Inc(1) }

// CacheMiss increments the cache miss counter.
func (c *Collector) CacheMiss() { c.cacheMisses.Inc(1) }

func (c *Collector) countLocked(state JobState) int64 {
	var n int64
	for _, rec := range c.jobs {
		if rec.state == state {
			n++
		}
	}
	return n
}

// DistributionSnapshot summarizes one bounded latency distribution.
type DistributionSnapshot struct {
	Count int64
	Sum   int64
	Mean  float64
	Min   int64
	Max   int64
	P95   float64
}

// Snapshot is a point-in-time copy of every collector reading.
type Snapshot struct {
	Jobs        map[JobState]int64
	CacheHits   int64
	CacheMisses int64
	HitRate     float64
	ActiveUsers int64
	JobDuration DistributionSnapshot
	QueueWait   DistributionSnapshot
}

// Snapshot captures all readings under one lock so exposers never observe a
// half-applied transition.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Jobs:        make(map[JobState]int64, 4),
		CacheHits:   c.cacheHits.Count(),
		CacheMisses: c.cacheMisses.Count(),
		ActiveUsers: int64(c.submitters.Cardinality()),
		JobDuration: distSnapshot(c.jobDuration),
		QueueWait:   distSnapshot(c.queueWait),
	}
	snap.Jobs[StatePending] = c.countLocked(StatePending)
	snap.Jobs[StateProcessing] = c.countLocked(StateProcessing)
	snap.Jobs[StateCompleted] = c.stateGauges[StateCompleted].Value()
	snap.Jobs[StateFailed] = c.stateGauges[StateFailed].Value()
	if total := snap.CacheHits + snap.CacheMisses; total > 0 {
		snap.HitRate = float64(snap.CacheHits) / float64(total)
	}
	return snap
}

func distSnapshot(h gometrics.Histogram) DistributionSnapshot {
	s := h.Snapshot()
	d := DistributionSnapshot{
		Count: s.Count(),
		Sum:   s.Sum(),
		Mean:  s.Mean(),
		P95:   s.Percentile(0.95),
	}
	if d.Count > 0 {
		d.Min = s.Min()
		d.Max = s.Max()
	}
	return d
}

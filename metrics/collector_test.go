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

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCollectorJobLifecycle(t *testing.T) {
	c := NewCollector()
	t0 := time.Unix(1700000000, 0)

	c.JobSubmitted("job-1", "u1", t0)
	c.JobSubmitted("job-2", "u2", t0)

	snap := c.Snapshot()
	require.EqualValues(t, 2, snap.Jobs[StatePending])
	require.EqualValues(t, 2, snap.ActiveUsers)

	c.JobStarted("job-1", t0.Add(250*time.Millisecond))
	snap = c.Snapshot()
	require.EqualValues(t, 1, snap.Jobs[StatePending])
	require.EqualValues(t, 1, snap.Jobs[StateProcessing])
	require.EqualValues(t, 1, snap.QueueWait.Count)
	require.EqualValues(t, 250, snap.QueueWait.Max)

	c.JobCompleted("job-1", t0.Add(3*time.Second))
	snap = c.Snapshot()
	require.EqualValues(t, 0, snap.Jobs[StateProcessing])
	require.EqualValues(t, 1, snap.Jobs[StateCompleted])
	require.EqualValues(t, 1, snap.JobDuration.Count)
	require.EqualValues(t, 2750, snap.JobDuration.Max)
	// u1 has no live jobs left, u2 still does.
	require.EqualValues(t, 1, snap.ActiveUsers)

	c.JobFailed("job-2", t0.Add(time.Second))
	snap = c.Snapshot()
	require.EqualValues(t, 1, snap.Jobs[StateFailed])
	require.EqualValues(t, 0, snap.ActiveUsers)
}

func TestCollectorDiscardsClockSkewSamples(t *testing.T) {
	c := NewCollector()
	t0 := time.Unix(1700000000, 0)

	c.JobSubmitted("job-1", "u1", t0)
	c.JobStarted("job-1", t0.Add(-time.Second)) // started "before" submission
	snap := c.Snapshot()
	require.EqualValues(t, 0, snap.QueueWait.Count, "negative wait must be discarded, not clamped")
	// The state transition itself still happens.
	require.EqualValues(t, 1, snap.Jobs[StateProcessing])

	c.JobCompleted("job-1", t0.Add(-2*time.Second))
	snap = c.Snapshot()
	require.EqualValues(t, 0, snap.JobDuration.Count)
	require.EqualValues(t, 1, snap.Jobs[StateCompleted])
}

func TestCollectorCacheHitRate(t *testing.T) {
	c := NewCollector()
	require.Zero(t, c.Snapshot().HitRate, "no lookups yet")

	c.CacheHit()
	c.CacheMiss()
	c.CacheMiss()
	c.CacheMiss()
	snap := c.Snapshot()
	require.EqualValues(t, 1, snap.CacheHits)
	require.EqualValues(t, 3, snap.CacheMisses)
	require.InDelta(t, 0.25, snap.HitRate, 1e-9)
}

func TestCollectorDuplicateAndUnknownJobs(t *testing.T) {
	c := NewCollector()
	t0 := time.Unix(1700000000, 0)

	c.JobSubmitted("job-1", "u1", t0)
	c.JobSubmitted("job-1", "u1", t0) // duplicate id ignored
	require.EqualValues(t, 1, c.Snapshot().Jobs[StatePending])

	c.JobStarted("nope", t0)
	c.JobCompleted("nope", t0)
	c.JobFailed("nope", t0)
	snap := c.Snapshot()
	require.EqualValues(t, 1, snap.Jobs[StatePending])
	require.EqualValues(t, 0, snap.Jobs[StateCompleted])
	require.EqualValues(t, 0, snap.Jobs[StateFailed])
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector()
	c.CacheHit()
	c.JobSubmitted("job-1", "u1", time.Now())
	c.Reset()

	snap := c.Snapshot()
	require.EqualValues(t, 0, snap.CacheHits)
	require.EqualValues(t, 0, snap.Jobs[StatePending])
	require.EqualValues(t, 0, snap.ActiveUsers)
}

func TestBoundedSampleKeepsMostRecent(t *testing.T) {
	s := NewBoundedSample(4)
	for i := int64(1); i <= 10; i++ {
		s.Update(i)
	}
	require.EqualValues(t, 10, s.Count(), "count tracks all observations")
	require.Equal(t, 4, s.Size(), "window holds only the newest values")
	require.EqualValues(t, 7, s.Min())
	require.EqualValues(t, 10, s.Max())
	require.EqualValues(t, 34, s.Sum())
}

func TestBoundedSamplePercentile(t *testing.T) {
	s := NewBoundedSample(100)
	for i := int64(1); i <= 100; i++ {
		s.Update(i)
	}
	p95 := s.Percentile(0.95)
	require.GreaterOrEqual(t, p95, 94.0)
	require.LessOrEqual(t, p95, 96.0)

	s.Clear()
	require.Equal(t, 0, s.Size())
	require.EqualValues(t, 0, s.Count())
}

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
	"sync"

	gometrics "github.com/rcrowley/go-metrics"
)

// boundedSample is a go-metrics Sample holding the most recent reservoirSize
// values in a circular buffer. Unlike the library's UniformSample it is not
// probabilistic: summaries always describe the latest window, which keeps
// p95 readings meaningful for bursty queue traffic.
type boundedSample struct {
	mu     sync.Mutex
	size   int
	count  int64
	pos    int
	values []int64
}

// NewBoundedSample constructs a Sample retaining the size most recent values.
func NewBoundedSample(size int) gometrics.Sample {
	return &boundedSample{size: size, values: make([]int64, 0, size)}
}

func (s *boundedSample) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
	s.pos = 0
	s.values = s.values[:0]
}

func (s *boundedSample) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *boundedSample) Max() int64 {
	return gometrics.SampleMax(s.Values())
}

func (s *boundedSample) Mean() float64 {
	return gometrics.SampleMean(s.Values())
}

func (s *boundedSample) Min() int64 {
	return gometrics.SampleMin(s.Values())
}

func (s *boundedSample) Percentile(p float64) float64 {
	return gometrics.SamplePercentile(s.Values(), p)
}

func (s *boundedSample) Percentiles(ps []float64) []float64 {
	return gometrics.SamplePercentiles(s.Values(), ps)
}

func (s *boundedSample) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

func (s *boundedSample) Snapshot() gometrics.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := make([]int64, len(s.values))
	copy(values, s.values)
	return gometrics.NewSampleSnapshot(s.count, values)
}

func (s *boundedSample) StdDev() float64 {
	return gometrics.SampleStdDev(s.Values())
}

func (s *boundedSample) Sum() int64 {
	return gometrics.SampleSum(s.Values())
}

func (s *boundedSample) Update(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if len(s.values) < s.size {
		s.values = append(s.values, v)
		return
	}
	s.values[s.pos] = v
	s.pos = (s.pos + 1) % s.size
}

func (s *boundedSample) Values() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := make([]int64, len(s.values))
	copy(values, s.values)
	return values
}

func (s *boundedSample) Variance() float64 {
	return gometrics.SampleVariance(s.Values())
}

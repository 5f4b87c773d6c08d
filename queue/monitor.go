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

package queue

import (
	"context"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/drawnofwar/arena/event"
)

// AlertLevel classifies a queue depth signal.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is emitted when queue depth first crosses a threshold within a cache
// epoch.
type Alert struct {
	Level     AlertLevel
	Depth     int64
	Threshold int
	At        time.Time
}

// statsReader is the backing-store view the monitor amortizes;
// *storage.RedisStore satisfies it.
type statsReader interface {
	Stats(ctx context.Context) (pending, processing, completed, failed int64, err error)
}

// Monitor exposes queue state counts with a short result cache. Threshold
// signals are one-shot per cache epoch: the first refresh that observes a
// crossing emits, later reads within the same epoch stay silent, and the
// signal re-arms when the cache expires.
type Monitor struct {
	store  statsReader
	config Config
	logger log.Logger

	mu            sync.Mutex
	cached        QueueStats
	cachedAt      time.Time
	warnedEpoch   bool
	criticalEpoch bool

	alertFeed event.Feed[Alert]
	now       func() time.Time // test hook
}

// NewMonitor constructs a monitor over the given stats source.
func NewMonitor(store statsReader, config Config, logger log.Logger) *Monitor {
	return &Monitor{
		store:  store,
		config: (&config).sanitize(),
		logger: logger.New("module", "monitor"),
		now:    time.Now,
	}
}

// SubscribeAlerts delivers threshold crossings on the given channel.
func (m *Monitor) SubscribeAlerts(ch chan<- Alert) event.Subscription {
	return m.alertFeed.Subscribe(ch)
}

// Stats returns queue state counts, refreshing the backing store at most
// once per cache epoch.
func (m *Monitor) Stats(ctx context.Context) (QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.cachedAt.IsZero() && now.Sub(m.cachedAt) < m.config.MonitorCacheTTL {
		return m.cached, nil
	}

	pending, processing, completed, failed, err := m.store.Stats(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	m.cached = QueueStats{
		Pending:    pending,
		Processing: processing,
		Completed:  completed,
		Failed:     failed,
		Timestamp:  now,
	}
	m.cachedAt = now
	// New epoch: thresholds re-arm, transient dips within an epoch don't.
	m.warnedEpoch = false
	m.criticalEpoch = false
	m.signalLocked(pending + processing)
	return m.cached, nil
}

func (m *Monitor) signalLocked(depth int64) {
	if !m.criticalEpoch && depth >= int64(m.config.CriticalThreshold) {
		m.criticalEpoch = true
		m.warnedEpoch = true // critical supersedes warning within the epoch
		m.logger.Error("Queue depth critical", "depth", depth, "threshold", m.config.CriticalThreshold)
		m.alertFeed.Send(Alert{Level: AlertCritical, Depth: depth, Threshold: m.config.CriticalThreshold, At: m.cachedAt})
		return
	}
	if !m.warnedEpoch && depth >= int64(m.config.WarningThreshold) {
		m.warnedEpoch = true
		m.logger.Warn("Queue depth elevated", "depth", depth, "threshold", m.config.WarningThreshold)
		m.alertFeed.Send(Alert{Level: AlertWarning, Depth: depth, Threshold: m.config.WarningThreshold, At: m.cachedAt})
	}
}

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
	"time"

	log "github.com/inconshreveable/log15"
)

// Config are the configuration parameters of the admission pool.
type Config struct {
	WorkerConcurrency int // parallel pipeline workers, used for wait estimates
	MaxJobsPerUser    int // admission cap per submitter
	SystemQueueLimit  int // hard cap on pending+processing
	WarningThreshold  int // one-shot warning emission threshold
	CriticalThreshold int // one-shot critical emission threshold

	CacheTTL    time.Duration // fingerprint result cache lifetime
	DedupWindow time.Duration // in-flight duplicate coalescing window

	AvgProcessingTime time.Duration // wait-estimate fallback before samples exist
	LimitCacheTTL     time.Duration // active-job count cache lifetime
	MonitorCacheTTL   time.Duration // queue stats cache epoch
}

// DefaultConfig contains the default admission pool configuration.
var DefaultConfig = Config{
	WorkerConcurrency: 4,
	MaxJobsPerUser:    5,
	SystemQueueLimit:  500,
	WarningThreshold:  50,
	CriticalThreshold: 200,

	CacheTTL:    7 * 24 * time.Hour,
	DedupWindow: 10 * time.Second,

	AvgProcessingTime: 45 * time.Second,
	LimitCacheTTL:     5 * time.Second,
	MonitorCacheTTL:   time.Second,
}

// sanitize checks the provided user configuration and changes anything
// unreasonable or unworkable.
func (config *Config) sanitize() Config {
	conf := *config
	if conf.WorkerConcurrency < 1 {
		log.Warn("Sanitizing invalid worker concurrency", "provided", conf.WorkerConcurrency, "updated", DefaultConfig.WorkerConcurrency)
		conf.WorkerConcurrency = DefaultConfig.WorkerConcurrency
	}
	if conf.MaxJobsPerUser < 1 {
		log.Warn("Sanitizing invalid per-user job cap", "provided", conf.MaxJobsPerUser, "updated", DefaultConfig.MaxJobsPerUser)
		conf.MaxJobsPerUser = DefaultConfig.MaxJobsPerUser
	}
	if conf.SystemQueueLimit < 1 {
		log.Warn("Sanitizing invalid system queue limit", "provided", conf.SystemQueueLimit, "updated", DefaultConfig.SystemQueueLimit)
		conf.SystemQueueLimit = DefaultConfig.SystemQueueLimit
	}
	if conf.WarningThreshold < 1 || conf.WarningThreshold > conf.SystemQueueLimit {
		conf.WarningThreshold = conf.SystemQueueLimit / 10
		if conf.WarningThreshold < 1 {
			conf.WarningThreshold = 1
		}
	}
	if conf.CriticalThreshold <= conf.WarningThreshold || conf.CriticalThreshold > conf.SystemQueueLimit {
		conf.CriticalThreshold = conf.SystemQueueLimit * 4 / 10
		if conf.CriticalThreshold <= conf.WarningThreshold {
			conf.CriticalThreshold = conf.WarningThreshold + 1
		}
	}
	if conf.CacheTTL <= 0 {
		conf.CacheTTL = DefaultConfig.CacheTTL
	}
	if conf.DedupWindow <= 0 {
		conf.DedupWindow = DefaultConfig.DedupWindow
	}
	if conf.AvgProcessingTime <= 0 {
		conf.AvgProcessingTime = DefaultConfig.AvgProcessingTime
	}
	if conf.LimitCacheTTL <= 0 {
		conf.LimitCacheTTL = DefaultConfig.LimitCacheTTL
	}
	if conf.MonitorCacheTTL <= 0 {
		conf.MonitorCacheTTL = DefaultConfig.MonitorCacheTTL
	}
	return conf
}

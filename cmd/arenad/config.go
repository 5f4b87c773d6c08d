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

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/drawnofwar/arena/api"
	"github.com/drawnofwar/arena/combat"
	"github.com/drawnofwar/arena/pipeline"
	"github.com/drawnofwar/arena/queue"
)

// fileConfig is the TOML layout. Durations are written as strings ("45s");
// every section is optional and falls back to the package defaults.
type fileConfig struct {
	Node      nodeConfig      `toml:"node"`
	Queue     queueConfig     `toml:"queue"`
	Cache     cacheConfig     `toml:"cache"`
	Dedup     dedupConfig     `toml:"dedup"`
	Retry     retryConfig     `toml:"retry"`
	Stream    streamConfig    `toml:"stream"`
	Simulator simulatorConfig `toml:"simulator"`
	Services  servicesConfig  `toml:"services"`
}

type nodeConfig struct {
	HTTPAddr  string `toml:"http_addr"`
	RedisAddr string `toml:"redis_addr"`
	DataDir   string `toml:"datadir"`
	LogLevel  string `toml:"log_level"`
}

type queueConfig struct {
	WorkerConcurrency int `toml:"worker_concurrency"`
	MaxJobsPerUser    int `toml:"max_jobs_per_user"`
	SystemQueueLimit  int `toml:"system_queue_limit"`
	WarningThreshold  int `toml:"warning_threshold"`
	CriticalThreshold int `toml:"critical_threshold"`
}

type cacheConfig struct {
	TTLDays int `toml:"ttl_days"`
}

type dedupConfig struct {
	WindowSeconds int `toml:"window_seconds"`
}

type retryConfig struct {
	MaxRetries        int      `toml:"max_retries"`
	BackoffDelay      duration `toml:"backoff_delay"`
	BackoffMaxDelay   duration `toml:"backoff_max_delay"`
	AvgProcessingTime duration `toml:"avg_processing_time"`
}

type streamConfig struct {
	UpdateInterval    duration `toml:"update_interval"`
	KeepaliveInterval duration `toml:"keepalive_interval"`
}

type simulatorConfig struct {
	TickRate        int     `toml:"tick_rate"`
	MaxTicks        int     `toml:"max_ticks"`
	SpeedMultiplier float64 `toml:"speed_multiplier"`
	GridWidth       int     `toml:"grid_width"`
	GridHeight      int     `toml:"grid_height"`
	AggroRange      int     `toml:"aggro_range"`
}

type servicesConfig struct {
	GeneratorURL string `toml:"generator_url"`
	VisionURL    string `toml:"vision_url"`
	AnimatorURL  string `toml:"animator_url"`
}

type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func loadConfig(path string) (*fileConfig, error) {
	conf := new(fileConfig)
	if path == "" {
		return conf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if err := toml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return conf, nil
}

// queuePoolConfig composes the admission pool configuration from defaults
// overlaid with the file settings.
func (c *fileConfig) queuePoolConfig() queue.Config {
	conf := queue.DefaultConfig
	if c.Queue.WorkerConcurrency > 0 {
		conf.WorkerConcurrency = c.Queue.WorkerConcurrency
	}
	if c.Queue.MaxJobsPerUser > 0 {
		conf.MaxJobsPerUser = c.Queue.MaxJobsPerUser
	}
	if c.Queue.SystemQueueLimit > 0 {
		conf.SystemQueueLimit = c.Queue.SystemQueueLimit
	}
	if c.Queue.WarningThreshold > 0 {
		conf.WarningThreshold = c.Queue.WarningThreshold
	}
	if c.Queue.CriticalThreshold > 0 {
		conf.CriticalThreshold = c.Queue.CriticalThreshold
	}
	if c.Cache.TTLDays > 0 {
		conf.CacheTTL = time.Duration(c.Cache.TTLDays) * 24 * time.Hour
	}
	if c.Dedup.WindowSeconds > 0 {
		conf.DedupWindow = time.Duration(c.Dedup.WindowSeconds) * time.Second
	}
	if c.Retry.AvgProcessingTime > 0 {
		conf.AvgProcessingTime = time.Duration(c.Retry.AvgProcessingTime)
	}
	return conf
}

func (c *fileConfig) pipelineConfig() pipeline.Config {
	conf := pipeline.DefaultConfig
	if c.Queue.WorkerConcurrency > 0 {
		conf.Workers = c.Queue.WorkerConcurrency
	}
	if c.Retry.MaxRetries > 0 {
		conf.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.BackoffDelay > 0 {
		conf.RetryBaseDelay = time.Duration(c.Retry.BackoffDelay)
	}
	if c.Retry.BackoffMaxDelay > 0 {
		conf.RetryMaxDelay = time.Duration(c.Retry.BackoffMaxDelay)
	}
	return conf
}

func (c *fileConfig) clientConfig() pipeline.ClientConfig {
	conf := pipeline.DefaultClientConfig
	conf.GeneratorURL = c.Services.GeneratorURL
	conf.VisionURL = c.Services.VisionURL
	conf.AnimatorURL = c.Services.AnimatorURL
	return conf
}

func (c *fileConfig) combatConfig() combat.Config {
	conf := combat.DefaultConfig
	if c.Simulator.TickRate > 0 {
		conf.TickRate = c.Simulator.TickRate
	}
	if c.Simulator.MaxTicks > 0 {
		conf.MaxTicks = c.Simulator.MaxTicks
	}
	if c.Simulator.SpeedMultiplier > 0 {
		conf.SpeedMultiplier = c.Simulator.SpeedMultiplier
	}
	if c.Simulator.GridWidth > 0 {
		conf.GridWidth = c.Simulator.GridWidth
	}
	if c.Simulator.GridHeight > 0 {
		conf.GridHeight = c.Simulator.GridHeight
	}
	if c.Simulator.AggroRange > 0 {
		conf.AggroRange = c.Simulator.AggroRange
	}
	return conf
}

func (c *fileConfig) apiConfig() api.Config {
	conf := api.DefaultConfig
	if c.Node.HTTPAddr != "" {
		conf.ListenAddr = c.Node.HTTPAddr
	}
	if c.Stream.UpdateInterval > 0 {
		conf.UpdateInterval = time.Duration(c.Stream.UpdateInterval)
	}
	if c.Stream.KeepaliveInterval > 0 {
		conf.KeepaliveInterval = time.Duration(c.Stream.KeepaliveInterval)
	}
	return conf
}

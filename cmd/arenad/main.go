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

// arenad is the Drawn-of-War arena daemon: the sprite-generation queue and
// the combat simulator behind one HTTP boundary.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/urfave/cli/v2"

	"github.com/drawnofwar/arena/api"
	"github.com/drawnofwar/arena/combat"
	"github.com/drawnofwar/arena/metrics"
	"github.com/drawnofwar/arena/metrics/prometheus"
	"github.com/drawnofwar/arena/pipeline"
	"github.com/drawnofwar/arena/queue"
	"github.com/drawnofwar/arena/storage"
	"github.com/drawnofwar/arena/storage/creaturestore"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP listen address",
	}
	redisAddrFlag = &cli.StringFlag{
		Name:  "redis.addr",
		Usage: "Redis server address",
		Value: "127.0.0.1:6379",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory for the creature database",
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Log level (debug, info, warn, error)",
		Value: "info",
	}
)

func main() {
	app := &cli.App{
		Name:   "arenad",
		Usage:  "sprite generation queue and combat simulation daemon",
		Flags:  []cli.Flag{configFlag, httpAddrFlag, redisAddrFlag, dataDirFlag, verbosityFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	conf, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	if addr := ctx.String(httpAddrFlag.Name); addr != "" {
		conf.Node.HTTPAddr = addr
	}
	if ctx.IsSet(redisAddrFlag.Name) || conf.Node.RedisAddr == "" {
		conf.Node.RedisAddr = ctx.String(redisAddrFlag.Name)
	}
	if dir := ctx.String(dataDirFlag.Name); dir != "" {
		conf.Node.DataDir = dir
	}
	if conf.Node.LogLevel == "" {
		conf.Node.LogLevel = ctx.String(verbosityFlag.Name)
	}

	logger, err := setupLogger(conf.Node.LogLevel)
	if err != nil {
		return err
	}

	store := storage.NewRedisStore(conf.Node.RedisAddr)
	defer store.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("redis at %s unreachable: %w", conf.Node.RedisAddr, err)
	}

	var creatures *creaturestore.Store
	if conf.Node.DataDir != "" {
		creatures, err = creaturestore.Open(filepath.Join(conf.Node.DataDir, "creatures"))
		if err != nil {
			return fmt.Errorf("creature database: %w", err)
		}
		defer creatures.Close()
	} else {
		logger.Warn("No datadir configured, creatures are not persisted")
	}

	collector := metrics.NewCollector()
	pool := queue.NewPool(conf.queuePoolConfig(), store, collector, logger)
	client := pipeline.NewClient(conf.clientConfig(), nil, logger)
	workers := pipeline.NewWorkers(conf.pipelineConfig(), store, pool, client, client, client, pipeline.NewHub(), creatures, logger)
	arena := combat.NewArena(conf.combatConfig(), logger)
	exposer := prometheus.NewExposer(collector)

	apiConf := conf.apiConfig()
	server := api.NewServer(apiConf, pool, workers.Hub(), arena, exposer, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workers.Start(runCtx)
	defer workers.Stop()
	defer arena.Shutdown()

	// Keep the queue monitor ticking so depth thresholds fire even when no
	// client polls /api/queue/status.
	alerts := make(chan queue.Alert, 16)
	alertSub := pool.Monitor().SubscribeAlerts(alerts)
	defer alertSub.Unsubscribe()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case alert := <-alerts:
				logger.Warn("Queue depth alert", "level", alert.Level, "depth", alert.Depth, "threshold", alert.Threshold)
			case <-ticker.C:
				if _, err := pool.Monitor().Stats(runCtx); err != nil {
					logger.Warn("Queue stats refresh failed", "err", err)
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:              apiConf.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", apiConf.ListenAddr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-runCtx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("HTTP shutdown incomplete", "err", err)
	}
	return nil
}

func setupLogger(level string) (log.Logger, error) {
	lvl, err := log.LvlFromString(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	logger := log.New()
	logger.SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat())))
	return logger, nil
}

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

// Package api exposes the platform over HTTP: job submission and inspection,
// SSE progress streams, websocket combat streams and the Prometheus text
// endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/drawnofwar/arena/combat"
	"github.com/drawnofwar/arena/metrics/prometheus"
	"github.com/drawnofwar/arena/pipeline"
	"github.com/drawnofwar/arena/queue"
)

// Config tunes the HTTP boundary.
type Config struct {
	ListenAddr        string
	UpdateInterval    time.Duration // combat frame cadence toward clients
	KeepaliveInterval time.Duration // SSE heartbeat cadence
	AllowedOrigins    []string
}

// DefaultConfig is the default boundary configuration. Combat frames go out
// at 10 Hz regardless of the simulation rate.
var DefaultConfig = Config{
	ListenAddr:        ":8080",
	UpdateInterval:    100 * time.Millisecond,
	KeepaliveInterval: 15 * time.Second,
	AllowedOrigins:    []string{"*"},
}

// Server wires the admission pool, progress hub, arena and metrics exposer
// into one handler.
type Server struct {
	config  Config
	pool    *queue.Pool
	hub     *pipeline.Hub
	arena   *combat.Arena
	exposer *prometheus.Exposer
	logger  log.Logger
	handler http.Handler
}

// NewServer assembles the routes.
func NewServer(config Config, pool *queue.Pool, hub *pipeline.Hub, arena *combat.Arena, exposer *prometheus.Exposer, logger log.Logger) *Server {
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = DefaultConfig.UpdateInterval
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = DefaultConfig.KeepaliveInterval
	}
	s := &Server{
		config:  config,
		pool:    pool,
		hub:     hub,
		arena:   arena,
		exposer: exposer,
		logger:  logger.New("module", "api"),
	}

	router := httprouter.New()
	router.POST("/api/generate", s.handleGenerate)
	router.GET("/api/generate/:id/status", s.handleStatus)
	router.DELETE("/api/generate/:id", s.handleCancel)
	router.GET("/api/generate/:id/stream", s.handleProgressStream)
	router.GET("/api/queue/status", s.handleQueueStatus)
	router.POST("/api/battle", s.handleCreateMatch)
	router.GET("/api/battle/:id", s.handleMatchStatus)
	router.GET("/api/battle/:id/ws", s.handleCombatStream)
	router.GET("/metrics", s.handleMetrics)
	router.GET("/health", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.handler = s.logRequests(c.Handler(router))
	return s
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request served", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

type generateRequest struct {
	SubmitterID string                   `json:"submitter_id"`
	Request     *queue.GenerationRequest `json:"request"`
}

// handleGenerate admits a generation job: 202 on a new job, 200 on a cache
// hit or coalesced duplicate, 400 on validation failure, 429 when a limit
// rejects.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "undecodable request body")
		return
	}
	result, err := s.pool.Submit(r.Context(), req.SubmitterID, req.Request)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	status := http.StatusAccepted
	if result.State == queue.StateCompleted || result.CacheHit {
		status = http.StatusOK
	} else if result.State == queue.StateProcessing {
		// Coalesced onto an in-flight duplicate.
		status = http.StatusOK
	}
	s.writeJSON(w, status, result)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var userLimit *queue.UserLimitError
	switch {
	case errors.Is(err, queue.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &userLimit):
		s.writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":   "user limit exceeded",
			"current": userLimit.Current,
			"max":     userLimit.Max,
		})
	case errors.Is(err, queue.ErrQueueFull):
		s.writeError(w, http.StatusTooManyRequests, "system queue full")
	case errors.Is(err, queue.ErrLimitUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "admission temporarily unavailable")
	default:
		s.logger.Error("Submission failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "submission failed")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	job, err := s.pool.Status(ps.ByName("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.pool.CancelPending(r.Context(), ps.ByName("id"))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
	case errors.Is(err, queue.ErrUnknownJob):
		s.writeError(w, http.StatusNotFound, "unknown job")
	case errors.Is(err, queue.ErrNotCancelable):
		s.writeError(w, http.StatusConflict, "job already picked up")
	default:
		s.logger.Error("Cancel failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "cancel failed")
	}
}

// handleQueueStatus reports queue depth per state. Reads are amortized by the
// monitor's cache, so polling clients don't hammer the backing store.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats, err := s.pool.Monitor().Stats(r.Context())
	if err != nil {
		s.logger.Error("Queue stats unavailable", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, "queue stats unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type createMatchRequest struct {
	Deployments []combat.Deployment `json:"deployments"`
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createMatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "undecodable request body")
		return
	}
	matchID, err := s.arena.CreateMatch(req.Deployments)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"match_id": matchID})
}

func (s *Server) handleMatchStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sim, err := s.arena.Match(ps.ByName("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unknown match")
		return
	}
	s.writeJSON(w, http.StatusOK, sim.Snapshot())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.exposer.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Response write failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

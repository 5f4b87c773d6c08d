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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/inconshreveable/log15"

	"github.com/drawnofwar/arena/metrics"
	"github.com/drawnofwar/arena/storage"
)

// Pool is the only entry point that can place a generation job into the work
// queue. It owns job records from admission to terminal state and exposes the
// submission and inspection capabilities the boundary collaborators need.
type Pool struct {
	config    Config
	store     *storage.RedisStore
	limits    *userLimits
	monitor   *Monitor
	collector *metrics.Collector
	logger    log.Logger

	mu   sync.RWMutex
	jobs map[string]*poolEntry

	now func() time.Time // test hook
}

type poolEntry struct {
	job     Job
	payload []byte // queued FIFO payload, kept for cancellation
}

// NewPool creates an admission pool over the given store. The metrics
// collector is injected; pass nil to run without instrumentation.
func NewPool(config Config, store *storage.RedisStore, collector *metrics.Collector, logger log.Logger) *Pool {
	config = (&config).sanitize()
	if collector == nil {
		collector = metrics.NewCollector()
	}
	pool := &Pool{
		config:    config,
		store:     store,
		collector: collector,
		logger:    logger.New("module", "queue"),
		jobs:      make(map[string]*poolEntry),
		now:       time.Now,
	}
	pool.limits = newUserLimits(store, config, pool.logger)
	pool.monitor = NewMonitor(store, config, logger)
	return pool
}

// Config returns the sanitized pool configuration.
func (pool *Pool) Config() Config { return pool.config }

// Monitor returns the pool's queue-size monitor.
func (pool *Pool) Monitor() *Monitor { return pool.monitor }

// Collector returns the injected metrics collector.
func (pool *Pool) Collector() *metrics.Collector { return pool.collector }

// Submit runs the admission algorithm: validate, mint ids, cache lookup,
// dedup lookup, user admission, system admission, enqueue. The first
// applicable outcome terminates the sequence.
func (pool *Pool) Submit(ctx context.Context, submitterID string, req *GenerationRequest) (*SubmissionResult, error) {
	if err := validateRequest(submitterID, req); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	fingerprint := Fingerprint(req)
	now := pool.now()

	// Cache lookup. A cache outage is treated as a miss: generation is
	// expensive but re-doable, refusing submissions is worse.
	cached, err := pool.store.CacheGet(ctx, fingerprint)
	switch {
	case err == nil:
		pool.collector.CacheHit()
		pool.logger.Debug("Serving generation from cache", "fingerprint", fingerprint)
		return &SubmissionResult{JobID: jobID, State: StateCompleted, CacheHit: true, Result: cached}, nil
	case errors.Is(err, storage.ErrNotFound):
		pool.collector.CacheMiss()
	default:
		pool.collector.CacheMiss()
		pool.logger.Warn("Result cache unavailable, treating as miss", "err", err)
	}

	// Dedup lookup coalesces accidental duplicates from the same caller
	// before the cache entry exists. Outage fails open.
	if existing, err := pool.store.DedupGet(ctx, submitterID, fingerprint); err == nil {
		pool.logger.Debug("Coalescing duplicate submission", "submitter", submitterID, "job", existing)
		return &SubmissionResult{JobID: existing, State: StateProcessing, CacheHit: false}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		pool.logger.Warn("Dedup store unavailable, admitting without coalescing", "err", err)
	}

	// User admission fails closed on store errors (inside limits.Count).
	active, err := pool.limits.Count(ctx, submitterID)
	if err != nil {
		return nil, err
	}
	if active >= pool.config.MaxJobsPerUser {
		return nil, &UserLimitError{Current: active, Max: pool.config.MaxJobsPerUser}
	}

	// System admission.
	depth, err := pool.store.Depth(ctx)
	if err != nil {
		pool.logger.Error("Queue depth unavailable", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	if depth >= int64(pool.config.SystemQueueLimit) {
		return nil, ErrQueueFull
	}

	// Enqueue, recording the dedup entry and active mark atomically with it.
	queued := &QueuedJob{SubmitterID: submitterID, Request: *req, JobID: jobID, SubmittedAt: now}
	payload, err := queued.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	if err := pool.store.QueuePush(ctx, submitterID, jobID, fingerprint, payload, pool.config.DedupWindow); err != nil {
		pool.logger.Error("Work queue unavailable", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	pool.limits.Invalidate(submitterID)
	pool.collector.JobSubmitted(jobID, submitterID, now)

	pool.mu.Lock()
	pool.jobs[jobID] = &poolEntry{
		job: Job{
			ID:          jobID,
			SubmitterID: submitterID,
			Fingerprint: fingerprint,
			Request:     *req,
			State:       StatePending,
			SubmittedAt: now,
		},
		payload: payload,
	}
	pool.mu.Unlock()

	result := &SubmissionResult{
		JobID:         jobID,
		State:         StatePending,
		QueueDepth:    depth + 1,
		EstimatedWait: pool.estimateWait(depth + 1),
	}
	if depth+1 >= int64(pool.config.WarningThreshold) {
		result.Warning = fmt.Sprintf("queue depth %d, expect delays", depth+1)
	}
	pool.logger.Info("Job admitted", "job", jobID, "submitter", submitterID, "depth", depth+1)
	return result, nil
}

// estimateWait is ceil(depth / workers) rounds of the average processing
// time, preferring the live duration distribution once samples exist.
func (pool *Pool) estimateWait(depth int64) time.Duration {
	avg := pool.config.AvgProcessingTime
	if snap := pool.collector.Snapshot(); snap.JobDuration.Count > 0 {
		avg = time.Duration(snap.JobDuration.Mean) * time.Millisecond
	}
	rounds := (depth + int64(pool.config.WorkerConcurrency) - 1) / int64(pool.config.WorkerConcurrency)
	return time.Duration(rounds) * avg
}

// Status returns a copy of the job record.
func (pool *Pool) Status(jobID string) (*Job, error) {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	entry, ok := pool.jobs[jobID]
	if !ok {
		return nil, ErrUnknownJob
	}
	job := entry.job
	return &job, nil
}

// CancelPending withdraws a job that no worker has picked up yet. The job
// terminates as failed with a canceled error; a job already processing is
// not interrupted.
func (pool *Pool) CancelPending(ctx context.Context, jobID string) error {
	pool.mu.Lock()
	entry, ok := pool.jobs[jobID]
	if !ok {
		pool.mu.Unlock()
		return ErrUnknownJob
	}
	if entry.job.State != StatePending {
		pool.mu.Unlock()
		return ErrNotCancelable
	}
	payload := entry.payload
	pool.mu.Unlock()

	if err := pool.store.QueueRemove(ctx, payload); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// A worker won the race.
			return ErrNotCancelable
		}
		return err
	}
	return pool.FailJob(ctx, jobID, &JobError{Category: "Canceled", Message: "canceled by submitter"})
}

// StartJob transitions a job to processing on worker pickup. Jobs admitted by
// another process are adopted from the queued payload.
func (pool *Pool) StartJob(ctx context.Context, queued *QueuedJob) error {
	now := pool.now()

	pool.mu.Lock()
	entry, ok := pool.jobs[queued.JobID]
	if !ok {
		entry = &poolEntry{job: Job{
			ID:          queued.JobID,
			SubmitterID: queued.SubmitterID,
			Fingerprint: Fingerprint(&queued.Request),
			Request:     queued.Request,
			State:       StatePending,
			SubmittedAt: queued.SubmittedAt,
		}}
		pool.jobs[queued.JobID] = entry
		pool.collector.JobSubmitted(queued.JobID, queued.SubmitterID, queued.SubmittedAt)
	}
	if entry.job.State.Terminal() {
		pool.mu.Unlock()
		return fmt.Errorf("job %s already %s", queued.JobID, entry.job.State)
	}
	entry.job.State = StateProcessing
	entry.job.StartedAt = now
	entry.job.Progress = 0
	entry.job.AttemptsMade++
	entry.payload = nil
	pool.mu.Unlock()

	pool.collector.JobStarted(queued.JobID, now)
	return pool.store.ProcessingAdd(ctx, queued.JobID)
}

// RetryJob parks a job in the retrying state between attempts.
func (pool *Pool) RetryJob(jobID string) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if entry, ok := pool.jobs[jobID]; ok && !entry.job.State.Terminal() {
		entry.job.State = StateRetrying
		// Progress resets with the attempt; monotonicity holds per attempt.
		entry.job.Progress = 0
	}
}

// MarkAttempt returns a job to processing for a retry attempt and bumps the
// attempt counter.
func (pool *Pool) MarkAttempt(jobID string) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if entry, ok := pool.jobs[jobID]; ok && !entry.job.State.Terminal() {
		entry.job.State = StateProcessing
		entry.job.Progress = 0
		entry.job.AttemptsMade++
	}
}

// SetProgress records monotonic progress within the current attempt.
func (pool *Pool) SetProgress(jobID string, progress int) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	entry, ok := pool.jobs[jobID]
	if !ok || entry.job.State.Terminal() {
		return
	}
	if progress > entry.job.Progress {
		entry.job.Progress = progress
	}
}

// CompleteJob commits a successful outcome: the result is written to the
// fingerprint cache, the dedup record is dropped, the submitter's active
// mark is cleared and the freed slot becomes visible immediately.
func (pool *Pool) CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error {
	now := pool.now()

	pool.mu.Lock()
	entry, ok := pool.jobs[jobID]
	if !ok {
		pool.mu.Unlock()
		return ErrUnknownJob
	}
	entry.job.State = StateCompleted
	entry.job.Progress = 100
	entry.job.FinishedAt = now
	entry.job.Result = result
	submitter, fingerprint := entry.job.SubmitterID, entry.job.Fingerprint
	pool.mu.Unlock()

	if err := pool.store.CachePut(ctx, fingerprint, result, pool.config.CacheTTL); err != nil {
		pool.logger.Warn("Result cache write failed", "job", jobID, "err", err)
	}
	if err := pool.store.DedupDelete(ctx, submitter, fingerprint); err != nil {
		pool.logger.Warn("Dedup record delete failed", "job", jobID, "err", err)
	}
	pool.releaseJob(ctx, submitter, jobID)
	if err := pool.store.MarkCompleted(ctx); err != nil {
		pool.logger.Warn("Completed counter update failed", "err", err)
	}
	pool.collector.JobCompleted(jobID, now)
	pool.logger.Info("Job completed", "job", jobID)
	return nil
}

// FailJob commits a terminal failure. The cache is not written.
func (pool *Pool) FailJob(ctx context.Context, jobID string, jobErr *JobError) error {
	now := pool.now()

	pool.mu.Lock()
	entry, ok := pool.jobs[jobID]
	if !ok {
		pool.mu.Unlock()
		return ErrUnknownJob
	}
	entry.job.State = StateFailed
	entry.job.FinishedAt = now
	entry.job.Error = jobErr
	submitter, fingerprint := entry.job.SubmitterID, entry.job.Fingerprint
	pool.mu.Unlock()

	if err := pool.store.DedupDelete(ctx, submitter, fingerprint); err != nil {
		pool.logger.Warn("Dedup record delete failed", "job", jobID, "err", err)
	}
	pool.releaseJob(ctx, submitter, jobID)
	if err := pool.store.MarkFailed(ctx); err != nil {
		pool.logger.Warn("Failed counter update failed", "err", err)
	}
	pool.collector.JobFailed(jobID, now)
	pool.logger.Warn("Job failed", "job", jobID, "category", jobErr.Category, "err", jobErr.Message)
	return nil
}

func (pool *Pool) releaseJob(ctx context.Context, submitter, jobID string) {
	if err := pool.store.ActiveRemove(ctx, submitter, jobID); err != nil {
		pool.logger.Warn("Active mark removal failed", "job", jobID, "err", err)
	}
	if err := pool.store.ProcessingRemove(ctx, jobID); err != nil {
		pool.logger.Warn("Processing mark removal failed", "job", jobID, "err", err)
	}
	pool.limits.Invalidate(submitter)
}

func validateRequest(submitterID string, req *GenerationRequest) error {
	switch {
	case submitterID == "":
		return fmt.Errorf("%w: submitter id required", ErrInvalidRequest)
	case req == nil:
		return fmt.Errorf("%w: request body required", ErrInvalidRequest)
	case req.Type == "":
		return fmt.Errorf("%w: type required", ErrInvalidRequest)
	case req.Style == "":
		return fmt.Errorf("%w: style required", ErrInvalidRequest)
	case req.Size.Width <= 0 || req.Size.Height <= 0:
		return fmt.Errorf("%w: size dimensions must be positive", ErrInvalidRequest)
	case req.Description == "":
		return fmt.Errorf("%w: description required", ErrInvalidRequest)
	case req.TextGuidanceScale != 0 && (req.TextGuidanceScale < 1.0 || req.TextGuidanceScale > 20.0):
		return fmt.Errorf("%w: text_guidance_scale must be within [1.0, 20.0]", ErrInvalidRequest)
	}
	return nil
}

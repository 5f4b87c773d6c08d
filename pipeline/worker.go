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

// Package pipeline consumes admitted generation jobs from the work queue and
// drives them through the external services: sprite generation, vision
// analysis, attribute derivation and animation, with categorized retries and
// per-job progress streaming.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/inconshreveable/log15"
	"golang.org/x/sync/errgroup"

	"github.com/drawnofwar/arena/queue"
	"github.com/drawnofwar/arena/storage"
	"github.com/drawnofwar/arena/storage/creaturestore"
)

// Progress checkpoints after each pipeline stage. The animation stage walks
// from progressAttributes to progressAnimated as frame sets land.
const (
	progressGenerated  = 25
	progressAnalyzed   = 40
	progressAttributes = 55
	progressAnimated   = 90
	progressDone       = 100
)

// Config tunes the worker pool.
type Config struct {
	Workers        int           // concurrent pipeline executions
	MaxRetries     int           // extra attempts after the first, retryable failures only
	RetryBaseDelay time.Duration // initial backoff between attempts
	RetryMaxDelay  time.Duration // backoff ceiling
	PopTimeout     time.Duration // blocking-pop window per poll
}

// DefaultConfig is the default worker pool configuration.
var DefaultConfig = Config{
	Workers:        4,
	MaxRetries:     1,
	RetryBaseDelay: 2 * time.Second,
	RetryMaxDelay:  30 * time.Second,
	PopTimeout:     time.Second,
}

func (config *Config) sanitize(logger log.Logger) Config {
	conf := *config
	if conf.Workers < 1 {
		logger.Warn("Sanitizing worker count", "provided", conf.Workers, "updated", DefaultConfig.Workers)
		conf.Workers = DefaultConfig.Workers
	}
	if conf.MaxRetries < 0 {
		logger.Warn("Sanitizing retry budget", "provided", conf.MaxRetries, "updated", DefaultConfig.MaxRetries)
		conf.MaxRetries = DefaultConfig.MaxRetries
	}
	if conf.RetryBaseDelay <= 0 {
		conf.RetryBaseDelay = DefaultConfig.RetryBaseDelay
	}
	if conf.RetryMaxDelay < conf.RetryBaseDelay {
		conf.RetryMaxDelay = DefaultConfig.RetryMaxDelay
	}
	if conf.PopTimeout <= 0 {
		conf.PopTimeout = DefaultConfig.PopTimeout
	}
	return conf
}

// JobTracker is the job-lifecycle surface the workers drive. The admission
// pool implements it.
type JobTracker interface {
	StartJob(ctx context.Context, queued *queue.QueuedJob) error
	RetryJob(jobID string)
	MarkAttempt(jobID string)
	SetProgress(jobID string, progress int)
	CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error
	FailJob(ctx context.Context, jobID string, jobErr *queue.JobError) error
}

// Workers runs N concurrent consumers over the work queue. Each picked job is
// executed through the five pipeline stages; retryable failures re-run the
// whole pipeline after a backoff, everything else terminates the job.
type Workers struct {
	config    Config
	store     *storage.RedisStore
	tracker   JobTracker
	generator ImageGenerator
	vision    VisionAnalyzer
	animator  Animator
	hub       *Hub
	creatures *creaturestore.Store // optional persistence, nil to skip
	logger    log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool

	sleep func(ctx context.Context, d time.Duration) error // test hook
}

// NewWorkers assembles a worker pool. The creature store may be nil, in which
// case finished documents live only in the result cache.
func NewWorkers(config Config, store *storage.RedisStore, tracker JobTracker, generator ImageGenerator,
	vision VisionAnalyzer, animator Animator, hub *Hub, creatures *creaturestore.Store, logger log.Logger) *Workers {

	logger = logger.New("module", "pipeline")
	if hub == nil {
		hub = NewHub()
	}
	return &Workers{
		config:    (&config).sanitize(logger),
		store:     store,
		tracker:   tracker,
		generator: generator,
		vision:    vision,
		animator:  animator,
		hub:       hub,
		creatures: creatures,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Hub returns the progress hub the workers publish to.
func (w *Workers) Hub() *Hub { return w.hub }

// Start launches the consumer goroutines. Calling Start on a running pool is
// a no-op.
func (w *Workers) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < w.config.Workers; i++ {
		id := i
		w.group.Go(func() error {
			w.loop(ctx, id)
			return nil
		})
	}
	w.running = true
	w.logger.Info("Pipeline workers started", "workers", w.config.Workers)
}

// Stop cancels the consumers and waits for in-flight jobs to wind down.
func (w *Workers) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, group := w.cancel, w.group
	w.running = false
	w.mu.Unlock()

	cancel()
	_ = group.Wait()
	w.logger.Info("Pipeline workers stopped")
}

func (w *Workers) loop(ctx context.Context, id int) {
	logger := w.logger.New("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		payload, err := w.store.QueuePop(ctx, w.config.PopTimeout)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) || ctx.Err() != nil {
				continue
			}
			logger.Error("Work queue poll failed", "err", err)
			if w.sleep(ctx, w.config.PopTimeout) != nil {
				return
			}
			continue
		}
		queued, err := queue.DecodeQueuedJob(payload)
		if err != nil {
			// A corrupt payload cannot be attributed to a job; drop it.
			logger.Error("Discarding undecodable queue payload", "err", err)
			continue
		}
		w.process(ctx, queued, logger)
	}
}

// process drives one job from pickup to a terminal state.
func (w *Workers) process(ctx context.Context, queued *queue.QueuedJob, logger log.Logger) {
	logger = logger.New("job", queued.JobID)
	if err := w.tracker.StartJob(ctx, queued); err != nil {
		logger.Warn("Job pickup rejected", "err", err)
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.config.RetryBaseDelay
	bo.MaxInterval = w.config.RetryMaxDelay
	bo.MaxElapsedTime = 0

	attempt := 1
	w.publish(queued.JobID, queue.StateProcessing, 0, attempt, "queued", nil, nil)
	for {
		creature, err := w.runAttempt(ctx, queued, attempt)
		if err == nil {
			w.commit(ctx, queued, creature, attempt, logger)
			return
		}
		cerr := Classify(err)
		if !cerr.Retryable() || attempt > w.config.MaxRetries || ctx.Err() != nil {
			w.fail(ctx, queued.JobID, cerr, attempt, logger)
			return
		}

		delay := bo.NextBackOff()
		if cerr.RetryAfter > delay {
			delay = cerr.RetryAfter
		}
		logger.Warn("Attempt failed, retrying", "attempt", attempt, "category", cerr.Category, "delay", delay, "err", cerr)
		w.tracker.RetryJob(queued.JobID)
		w.publish(queued.JobID, queue.StateRetrying, 0, attempt, "", nil, nil)
		if w.sleep(ctx, delay) != nil {
			w.fail(ctx, queued.JobID, NewError(CategoryUnknown, "shutdown during retry wait", ctx.Err()), attempt, logger)
			return
		}
		attempt++
		w.tracker.MarkAttempt(queued.JobID)
		w.publish(queued.JobID, queue.StateProcessing, 0, attempt, "queued", nil, nil)
	}
}

// runAttempt executes the pipeline stages once. Progress within the attempt
// only moves forward; a retry starts over from zero.
func (w *Workers) runAttempt(ctx context.Context, queued *queue.QueuedJob, attempt int) (*Creature, error) {
	jobID := queued.JobID

	sprite, err := w.generator.GenerateSprite(ctx, &queued.Request)
	if err != nil {
		return nil, err
	}
	w.advance(jobID, progressGenerated, attempt, "generated")

	analysis, err := w.vision.AnalyzeSprite(ctx, sprite)
	if err != nil {
		return nil, err
	}
	w.advance(jobID, progressAnalyzed, attempt, "analyzed")

	attrs := deriveAttributes(analysis)
	w.advance(jobID, progressAttributes, attempt, "attributes")

	total := len(Directions) * len(Animations)
	sets := make([]*FrameSet, 0, total)
	for _, dir := range Directions {
		for _, anim := range Animations {
			frames, err := w.animator.Animate(ctx, sprite, dir, anim)
			if err != nil {
				return nil, err
			}
			sets = append(sets, frames)
			span := progressAnimated - progressAttributes
			w.advance(jobID, progressAttributes+span*len(sets)/total, attempt, "animating")
		}
	}

	return &Creature{
		JobID:       jobID,
		Request:     queued.Request,
		Sprite:      sprite,
		Analysis:    analysis,
		Attributes:  attrs,
		Animations:  sets,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (w *Workers) commit(ctx context.Context, queued *queue.QueuedJob, creature *Creature, attempt int, logger log.Logger) {
	doc, err := json.Marshal(creature)
	if err != nil {
		w.fail(ctx, queued.JobID, NewError(CategoryUnknown, "result not serializable", err), attempt, logger)
		return
	}
	if w.creatures != nil {
		if err := w.creatures.Put(queued.JobID, doc); err != nil {
			logger.Warn("Creature persistence failed", "err", err)
		}
	}
	if err := w.tracker.CompleteJob(ctx, queued.JobID, doc); err != nil {
		logger.Error("Completion commit failed", "err", err)
	}
	w.publish(queued.JobID, queue.StateCompleted, progressDone, attempt, "", doc, nil)
	logger.Info("Pipeline finished", "attempts", attempt)
}

func (w *Workers) fail(ctx context.Context, jobID string, cerr *Error, attempt int, logger log.Logger) {
	jobErr := &queue.JobError{
		Category: string(cerr.Category),
		Message:  cerr.Message,
		Fields:   cerr.Fields,
	}
	if jobErr.Message == "" {
		jobErr.Message = cerr.Error()
	}
	if err := w.tracker.FailJob(ctx, jobID, jobErr); err != nil {
		logger.Error("Failure commit failed", "err", err)
	}
	w.publish(jobID, queue.StateFailed, 0, attempt, "", nil, jobErr)
	logger.Warn("Pipeline failed", "attempts", attempt, "category", cerr.Category, "err", cerr)
}

// advance records in-attempt progress on both the tracker and the stream.
func (w *Workers) advance(jobID string, progress, attempt int, stage string) {
	w.tracker.SetProgress(jobID, progress)
	w.publish(jobID, queue.StateProcessing, progress, attempt, stage, nil, nil)
}

func (w *Workers) publish(jobID string, state queue.JobState, progress, attempt int, stage string, result json.RawMessage, jobErr *queue.JobError) {
	w.hub.Publish(Frame{
		JobID:    jobID,
		State:    state,
		Progress: progress,
		Attempt:  attempt,
		Stage:    stage,
		Result:   result,
		Error:    jobErr,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

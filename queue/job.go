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

// Package queue implements the sprite-generation admission pool: validation,
// result-cache lookup, in-flight deduplication, per-submitter and system-wide
// admission control, and FIFO handoff to the pipeline workers.
package queue

import (
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of a generation job.
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateRetrying   JobState = "retrying"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SpriteSize is the requested sprite dimensions in pixels.
type SpriteSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// GenerationRequest is the structured prompt a submitter sends. Image carries
// optional normalized reference bytes produced by the upload collaborator.
type GenerationRequest struct {
	Type              string     `json:"type"`
	Style             string     `json:"style"`
	Size              SpriteSize `json:"size"`
	Action            string     `json:"action"`
	Description       string     `json:"description"`
	Raw               string     `json:"raw,omitempty"`
	TextGuidanceScale float64    `json:"text_guidance_scale,omitempty"`
	Image             []byte     `json:"image,omitempty"`
}

// JobError describes a terminal failure.
type JobError struct {
	Category string            `json:"category"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Job is the unit managed by the generation pipeline. A job is exclusively
// owned by the pool from admission until a terminal state; afterwards its
// result lives in the shared cache.
type Job struct {
	ID           string            `json:"job_id"`
	SubmitterID  string            `json:"submitter_id"`
	Fingerprint  string            `json:"fingerprint"`
	Request      GenerationRequest `json:"request"`
	State        JobState          `json:"state"`
	Progress     int               `json:"progress"`
	AttemptsMade int               `json:"attempts_made"`
	SubmittedAt  time.Time         `json:"submitted_at"`
	StartedAt    time.Time         `json:"started_at,omitempty"`
	FinishedAt   time.Time         `json:"finished_at,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        *JobError         `json:"error,omitempty"`
}

// QueuedJob is the FIFO payload handed to workers.
type QueuedJob struct {
	SubmitterID string            `json:"submitter_id"`
	Request     GenerationRequest `json:"request"`
	JobID       string            `json:"job_id"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Encode marshals the payload for the work queue.
func (q *QueuedJob) Encode() ([]byte, error) {
	return json.Marshal(q)
}

// DecodeQueuedJob unmarshals a FIFO payload.
func DecodeQueuedJob(data []byte) (*QueuedJob, error) {
	var q QueuedJob
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// SubmissionResult is returned synchronously from Submit.
type SubmissionResult struct {
	JobID         string          `json:"job_id"`
	State         JobState        `json:"state"`
	CacheHit      bool            `json:"cache_hit"`
	Result        json.RawMessage `json:"result,omitempty"`
	EstimatedWait time.Duration   `json:"estimated_wait,omitempty"`
	QueueDepth    int64           `json:"queue_depth"`
	Warning       string          `json:"warning,omitempty"`
}

// QueueStats is the monitor's view of queue state counts.
type QueueStats struct {
	Pending    int64     `json:"pending"`
	Processing int64     `json:"processing"`
	Completed  int64     `json:"completed"`
	Failed     int64     `json:"failed"`
	Timestamp  time.Time `json:"timestamp"`
}

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

package pipeline

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/drawnofwar/arena/event"
	"github.com/drawnofwar/arena/queue"
)

// Frame is one progress update on a job's stream. Terminal frames carry the
// result document or the failure.
type Frame struct {
	JobID    string          `json:"job_id"`
	State    queue.JobState  `json:"state"`
	Progress int             `json:"progress"`
	Attempt  int             `json:"attempt"`
	Stage    string          `json:"stage,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *queue.JobError `json:"error,omitempty"`
}

// Terminal reports whether this frame ends the stream.
func (f Frame) Terminal() bool { return f.State.Terminal() }

const (
	// terminalRetention is how long a finished job's last frame stays
	// available for subscribers arriving after completion.
	terminalRetention = 10 * time.Minute
	terminalCacheSize = 16384
)

// Hub fans job progress out to per-job subscribers. Intermediate frames are
// delivered best-effort; terminal frames are delivered blocking so no
// subscriber misses the outcome, and are retained for late arrivals.
type Hub struct {
	mu    sync.Mutex
	feeds map[string]*event.Feed[Frame]
	last  map[string]Frame // latest frame per live job

	finished *expirable.LRU[string, Frame]
}

// NewHub creates an empty progress hub.
func NewHub() *Hub {
	return &Hub{
		feeds:    make(map[string]*event.Feed[Frame]),
		last:     make(map[string]Frame),
		finished: expirable.NewLRU[string, Frame](terminalCacheSize, nil, terminalRetention),
	}
}

// Publish pushes a frame to the job's subscribers. A terminal frame tears the
// job's feed down after delivery.
func (h *Hub) Publish(frame Frame) {
	h.mu.Lock()
	feed, ok := h.feeds[frame.JobID]
	if !frame.Terminal() {
		h.last[frame.JobID] = frame
		h.mu.Unlock()
		if ok {
			feed.Send(frame)
		}
		return
	}
	delete(h.last, frame.JobID)
	delete(h.feeds, frame.JobID)
	h.finished.Add(frame.JobID, frame)
	h.mu.Unlock()

	if ok {
		feed.SendBlocking(frame)
		feed.Close()
	}
}

// Subscribe attaches a channel to a job's progress stream. The returned frame
// is the latest state, so late subscribers start from a snapshot instead of
// an empty stream; ok is false when the hub has never seen the job.
// A job that already finished yields its terminal frame with a closed
// subscription.
func (h *Hub) Subscribe(jobID string, ch chan<- Frame) (event.Subscription, Frame, bool) {
	h.mu.Lock()
	if frame, done := h.finished.Get(jobID); done {
		h.mu.Unlock()
		closed := &event.Feed[Frame]{}
		closed.Close()
		return closed.Subscribe(ch), frame, true
	}
	feed, ok := h.feeds[jobID]
	if !ok {
		feed = new(event.Feed[Frame])
		h.feeds[jobID] = feed
	}
	frame, seen := h.last[jobID]
	h.mu.Unlock()

	return feed.Subscribe(ch), frame, seen
}

// Subscribers returns how many channels are attached to the job's stream.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	feed, ok := h.feeds[jobID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return feed.Len()
}

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

package combat

import (
	"errors"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/drawnofwar/arena/event"
)

// ErrUnknownMatch is returned when joining a match without a room.
var ErrUnknownMatch = errors.New("unknown match")

// MessageType tags a broadcast frame.
type MessageType string

const (
	MessageJoined    MessageType = "joined"
	MessageState     MessageType = "state"
	MessageCompleted MessageType = "completed"
	MessageLeft      MessageType = "left"
)

// Message is one frame on a match's broadcast stream.
type Message struct {
	Type     MessageType `json:"type"`
	Snapshot *State      `json:"snapshot,omitempty"`
	Result   *Result     `json:"result,omitempty"`
}

// Broadcast fans match snapshots out to per-match rooms. Intermediate
// snapshots are delivered best-effort: a subscriber that cannot keep up
// misses frames without slowing the match or its peers. The completion frame
// is delivered to everyone, then the room is torn down.
type Broadcast struct {
	logger log.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	feed   *event.Feed[Message]
	latest *State
}

// NewBroadcast creates an empty broadcast registry.
func NewBroadcast(logger log.Logger) *Broadcast {
	return &Broadcast{
		logger: logger.New("module", "combat"),
		rooms:  make(map[string]*room),
	}
}

// Open registers a room for a match, seeded with its initial snapshot.
func (b *Broadcast) Open(matchID string, initial *State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rooms[matchID]; ok {
		return
	}
	b.rooms[matchID] = &room{feed: new(event.Feed[Message]), latest: initial}
	b.logger.Debug("Broadcast room opened", "match", matchID)
}

// Join subscribes a channel to a match's stream and returns the latest
// snapshot for the initial frame. Unknown matches are rejected.
func (b *Broadcast) Join(matchID string, ch chan<- Message) (event.Subscription, *State, error) {
	b.mu.Lock()
	r, ok := b.rooms[matchID]
	b.mu.Unlock()
	if !ok {
		return nil, nil, ErrUnknownMatch
	}
	return r.feed.Subscribe(ch), r.latest, nil
}

// Publish pushes a snapshot to the match's room, if any.
func (b *Broadcast) Publish(snapshot *State) {
	b.mu.Lock()
	r, ok := b.rooms[snapshot.MatchID]
	if ok {
		r.latest = snapshot
	}
	b.mu.Unlock()
	if ok {
		r.feed.Send(Message{Type: MessageState, Snapshot: snapshot})
	}
}

// Complete publishes the final snapshot with its result and tears the room
// down. Every subscriber observes the completion frame.
func (b *Broadcast) Complete(final *State) {
	b.mu.Lock()
	r, ok := b.rooms[final.MatchID]
	delete(b.rooms, final.MatchID)
	b.mu.Unlock()
	if !ok {
		return
	}
	r.feed.SendBlocking(Message{Type: MessageCompleted, Snapshot: final, Result: final.Result})
	r.feed.Close()
	b.logger.Debug("Broadcast room closed", "match", final.MatchID)
}

// Rooms returns the number of open rooms.
func (b *Broadcast) Rooms() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}

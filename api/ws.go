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

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/drawnofwar/arena/combat"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS layer in front of the router.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleCombatStream streams a match over a websocket: a joined marker, then
// state snapshots throttled to the configured cadence, the completion frame,
// and a left marker. Snapshots between cadence ticks are coalesced to the
// newest one; the completion frame is never dropped.
func (s *Server) handleCombatStream(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	matchID := ps.ByName("id")

	ch := make(chan combat.Message, 256)
	sub, latest, err := s.arena.Broadcast().Join(matchID, ch)
	if err != nil {
		if errors.Is(err, combat.ErrUnknownMatch) {
			s.writeError(w, http.StatusNotFound, "unknown match")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "join failed")
		return
	}
	defer sub.Unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", "match", matchID, "err", err)
		return
	}
	defer conn.Close()

	write := func(msg combat.Message) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(msg)
	}

	if err := write(combat.Message{Type: combat.MessageJoined}); err != nil {
		return
	}
	if latest != nil {
		if err := write(combat.Message{Type: combat.MessageState, Snapshot: latest}); err != nil {
			return
		}
	}

	// Reader goroutine only to observe the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.config.UpdateInterval)
	defer ticker.Stop()

	var pending *combat.Message
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case msg := <-ch:
			if msg.Type == combat.MessageCompleted {
				_ = write(msg)
				_ = write(combat.Message{Type: combat.MessageLeft})
				return
			}
			m := msg
			pending = &m
		case <-sub.Err():
			// Drain the completion frame if it raced the feed teardown.
			for {
				select {
				case msg := <-ch:
					if msg.Type == combat.MessageCompleted {
						_ = write(msg)
					}
				default:
					_ = write(combat.Message{Type: combat.MessageLeft})
					return
				}
			}
		case <-ticker.C:
			if pending == nil {
				continue
			}
			if err := write(*pending); err != nil {
				return
			}
			pending = nil
		}
	}
}

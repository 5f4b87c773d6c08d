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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/drawnofwar/arena/pipeline"
)

// handleProgressStream serves a job's progress as server-sent events. The
// stream opens with the latest frame, forwards every subsequent one and ends
// with the terminal frame. Heartbeat comments keep idle proxies from
// collapsing the connection.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	jobID := ps.ByName("id")
	if _, err := s.pool.Status(jobID); err != nil {
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := make(chan pipeline.Frame, 64)
	sub, last, seen := s.hub.Subscribe(jobID, ch)
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeFrame := func(frame pipeline.Frame) bool {
		data, err := json.Marshal(frame)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return !frame.Terminal()
	}

	if seen && !writeFrame(last) {
		return
	}

	keepalive := time.NewTicker(s.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Err():
			// Feed torn down; drain anything delivered before the close so
			// the terminal frame is not lost to the select race.
			for {
				select {
				case frame := <-ch:
					if !writeFrame(frame) {
						return
					}
				default:
					return
				}
			}
		case frame := <-ch:
			if !writeFrame(frame) {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

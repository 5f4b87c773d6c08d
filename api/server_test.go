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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	log "github.com/inconshreveable/log15"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/drawnofwar/arena/combat"
	"github.com/drawnofwar/arena/metrics"
	"github.com/drawnofwar/arena/metrics/prometheus"
	"github.com/drawnofwar/arena/pipeline"
	"github.com/drawnofwar/arena/queue"
	"github.com/drawnofwar/arena/storage"
)

type apiRig struct {
	srv   *httptest.Server
	pool  *queue.Pool
	hub   *pipeline.Hub
	arena *combat.Arena
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	mr := miniredis.RunT(t)
	store := storage.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })

	logger := log.New()
	logger.SetHandler(log.DiscardHandler())

	pool := queue.NewPool(queue.DefaultConfig, store, metrics.NewCollector(), logger)
	hub := pipeline.NewHub()

	combatConfig := combat.DefaultConfig
	combatConfig.SpeedMultiplier = 100
	combatConfig.MaxTicks = 200
	arena := combat.NewArena(combatConfig, logger)
	t.Cleanup(arena.Shutdown)

	apiConfig := DefaultConfig
	apiConfig.UpdateInterval = 5 * time.Millisecond
	apiConfig.KeepaliveInterval = 50 * time.Millisecond
	server := NewServer(apiConfig, pool, hub, arena, prometheus.NewExposer(pool.Collector()), logger)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &apiRig{srv: srv, pool: pool, hub: hub, arena: arena}
}

func (rig *apiRig) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(rig.srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func validGenerate() generateRequest {
	return generateRequest{
		SubmitterID: "u1",
		Request: &queue.GenerationRequest{
			Type:        "character",
			Style:       "pixel-art",
			Size:        queue.SpriteSize{Width: 32, Height: 32},
			Action:      "idle",
			Description: "A brave knight",
		},
	}
}

func TestGenerateAccepted(t *testing.T) {
	rig := newAPIRig(t)
	resp := rig.postJSON(t, "/api/generate", validGenerate())
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result queue.SubmissionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, queue.StatePending, result.State)
	require.NotEmpty(t, result.JobID)
}

func TestGenerateValidationFailure(t *testing.T) {
	rig := newAPIRig(t)
	req := validGenerate()
	req.Request.Description = ""
	resp := rig.postJSON(t, "/api/generate", req)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateCoalescedDuplicate(t *testing.T) {
	rig := newAPIRig(t)
	first := rig.postJSON(t, "/api/generate", validGenerate())
	defer first.Body.Close()
	require.Equal(t, http.StatusAccepted, first.StatusCode)
	var a queue.SubmissionResult
	require.NoError(t, json.NewDecoder(first.Body).Decode(&a))

	second := rig.postJSON(t, "/api/generate", validGenerate())
	defer second.Body.Close()
	require.Equal(t, http.StatusOK, second.StatusCode)
	var b queue.SubmissionResult
	require.NoError(t, json.NewDecoder(second.Body).Decode(&b))
	require.Equal(t, a.JobID, b.JobID)
}

func TestGenerateUserLimit(t *testing.T) {
	rig := newAPIRig(t)
	for i := 0; i < queue.DefaultConfig.MaxJobsPerUser; i++ {
		req := validGenerate()
		req.Request.Description = fmt.Sprintf("creature %d", i)
		resp := rig.postJSON(t, "/api/generate", req)
		resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	req := validGenerate()
	req.Request.Description = "one too many"
	resp := rig.postJSON(t, "/api/generate", req)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.EqualValues(t, queue.DefaultConfig.MaxJobsPerUser, body["max"])
}

func TestStatusAndCancel(t *testing.T) {
	rig := newAPIRig(t)
	resp := rig.postJSON(t, "/api/generate", validGenerate())
	var result queue.SubmissionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()

	status, err := http.Get(rig.srv.URL + "/api/generate/" + result.JobID + "/status")
	require.NoError(t, err)
	defer status.Body.Close()
	require.Equal(t, http.StatusOK, status.StatusCode)
	var job queue.Job
	require.NoError(t, json.NewDecoder(status.Body).Decode(&job))
	require.Equal(t, queue.StatePending, job.State)

	req, _ := http.NewRequest(http.MethodDelete, rig.srv.URL+"/api/generate/"+result.JobID, nil)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	require.Equal(t, http.StatusOK, del.StatusCode)

	// Cancel again: the job is already terminal.
	again, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	again.Body.Close()
	require.Equal(t, http.StatusConflict, again.StatusCode)

	missing, err := http.Get(rig.srv.URL + "/api/generate/nope/status")
	require.NoError(t, err)
	missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	resp := rig.postJSON(t, "/api/generate", validGenerate())
	resp.Body.Close()

	scrape, err := http.Get(rig.srv.URL + "/metrics")
	require.NoError(t, err)
	defer scrape.Body.Close()
	require.Equal(t, http.StatusOK, scrape.StatusCode)

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(scrape.Body)
	require.NoError(t, err)
	text := buf.String()
	require.Contains(t, text, `queue_jobs_total{state="pending"} 1`)
	require.Contains(t, text, "# TYPE queue_jobs_total gauge")
}

func TestQueueStatusEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	for i := 0; i < 2; i++ {
		req := validGenerate()
		req.Request.Description = fmt.Sprintf("creature %d", i)
		resp := rig.postJSON(t, "/api/generate", req)
		resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp, err := http.Get(rig.srv.URL + "/api/queue/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats queue.QueueStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.EqualValues(t, 2, stats.Pending)
	require.Zero(t, stats.Processing)
	require.False(t, stats.Timestamp.IsZero())
}

func TestProgressStream(t *testing.T) {
	rig := newAPIRig(t)
	resp := rig.postJSON(t, "/api/generate", validGenerate())
	var result queue.SubmissionResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rig.srv.URL+"/api/generate/"+result.JobID+"/stream", nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		rig.hub.Publish(pipeline.Frame{JobID: result.JobID, State: queue.StateProcessing, Progress: 25})
		rig.hub.Publish(pipeline.Frame{JobID: result.JobID, State: queue.StateProcessing, Progress: 55})
		rig.hub.Publish(pipeline.Frame{JobID: result.JobID, State: queue.StateCompleted, Progress: 100, Result: json.RawMessage(`{"ok":true}`)})
	}()

	var frames []pipeline.Frame
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame pipeline.Frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		frames = append(frames, frame)
		if frame.Terminal() {
			break
		}
	}
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	require.Equal(t, queue.StateCompleted, last.State)
	require.Equal(t, 100, last.Progress)
	prev := -1
	for _, frame := range frames {
		require.GreaterOrEqual(t, frame.Progress, prev)
		prev = frame.Progress
	}
}

func TestProgressStreamUnknownJob(t *testing.T) {
	rig := newAPIRig(t)
	resp, err := http.Get(rig.srv.URL + "/api/generate/nope/stream")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCombatWebsocketStream(t *testing.T) {
	rig := newAPIRig(t)

	stalemate := combat.Stats{Damage: 1, Armor: 50, Range: 10, MoveSpeed: 1, AttacksPerSecond: 1}
	resp := rig.postJSON(t, "/api/battle", createMatchRequest{Deployments: []combat.Deployment{
		{Owner: combat.TeamP1, Position: combat.Hex{Q: 1, R: 2}, Health: 1000, Stats: stalemate},
		{Owner: combat.TeamP2, Position: combat.Hex{Q: 10, R: 2}, Health: 1000, Stats: stalemate},
	}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	wsURL := strings.Replace(rig.srv.URL, "http", "ws", 1) + "/api/battle/" + created["match_id"] + "/ws"
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if wsResp != nil {
		wsResp.Body.Close()
	}
	defer conn.Close()

	var joined combat.Message
	require.NoError(t, conn.ReadJSON(&joined))
	require.Equal(t, combat.MessageJoined, joined.Type)

	sawState := false
	prevTick := -1
	deadline := time.Now().Add(10 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg combat.Message
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case combat.MessageState:
			sawState = true
			require.Greater(t, msg.Snapshot.Tick, prevTick, "snapshots arrive in tick order")
			prevTick = msg.Snapshot.Tick
		case combat.MessageCompleted:
			require.True(t, sawState)
			require.Equal(t, combat.ReasonTimeout, msg.Result.Reason)
			var left combat.Message
			require.NoError(t, conn.ReadJSON(&left))
			require.Equal(t, combat.MessageLeft, left.Type)
			return
		}
	}
}

func TestCombatWebsocketUnknownMatch(t *testing.T) {
	rig := newAPIRig(t)
	wsURL := strings.Replace(rig.srv.URL, "http", "ws", 1) + "/api/battle/nope/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}

func TestMatchStatusEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	stats := combat.Stats{Damage: 1, Armor: 50, Range: 10, MoveSpeed: 1, AttacksPerSecond: 1}
	resp := rig.postJSON(t, "/api/battle", createMatchRequest{Deployments: []combat.Deployment{
		{Owner: combat.TeamP1, Position: combat.Hex{Q: 0, R: 0}, Health: 100, Stats: stats},
		{Owner: combat.TeamP2, Position: combat.Hex{Q: 5, R: 0}, Health: 100, Stats: stats},
	}})
	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	status, err := http.Get(rig.srv.URL + "/api/battle/" + created["match_id"])
	require.NoError(t, err)
	defer status.Body.Close()
	require.Equal(t, http.StatusOK, status.StatusCode)
	var snap combat.State
	require.NoError(t, json.NewDecoder(status.Body).Decode(&snap))
	require.Len(t, snap.Units, 2)

	missing, err := http.Get(rig.srv.URL + "/api/battle/nope")
	require.NoError(t, err)
	missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCreateMatchRejectsBadDeployments(t *testing.T) {
	rig := newAPIRig(t)
	resp := rig.postJSON(t, "/api/battle", createMatchRequest{})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

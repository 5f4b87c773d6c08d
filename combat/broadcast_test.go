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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drawnofwar/arena/event"
)

func TestBroadcastJoinUnknownMatch(t *testing.T) {
	b := NewBroadcast(testLogger())
	ch := make(chan Message, 1)
	_, _, err := b.Join("nope", ch)
	require.ErrorIs(t, err, ErrUnknownMatch)
}

func TestBroadcastJoinReturnsLatestSnapshot(t *testing.T) {
	b := NewBroadcast(testLogger())
	b.Open("m1", &State{MatchID: "m1", Tick: 0})
	b.Publish(&State{MatchID: "m1", Tick: 7})

	ch := make(chan Message, 4)
	sub, latest, err := b.Join("m1", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.Equal(t, 7, latest.Tick)

	b.Publish(&State{MatchID: "m1", Tick: 8})
	msg := <-ch
	require.Equal(t, MessageState, msg.Type)
	require.Equal(t, 8, msg.Snapshot.Tick)
}

func TestBroadcastCompleteTearsDownRoom(t *testing.T) {
	b := NewBroadcast(testLogger())
	b.Open("m1", &State{MatchID: "m1"})

	ch := make(chan Message, 4)
	sub, _, err := b.Join("m1", ch)
	require.NoError(t, err)

	final := &State{MatchID: "m1", Tick: 42, Status: MatchCompleted,
		Result: &Result{Winner: TeamP1, Reason: ReasonElimination, DurationTicks: 42}}
	b.Complete(final)

	msg := <-ch
	require.Equal(t, MessageCompleted, msg.Type)
	require.Equal(t, TeamP1, msg.Result.Winner)
	require.ErrorIs(t, <-sub.Err(), event.ErrFeedClosed)
	require.Zero(t, b.Rooms())

	_, _, err = b.Join("m1", make(chan Message, 1))
	require.ErrorIs(t, err, ErrUnknownMatch)
}

func TestBroadcastSlowSubscriberDoesNotBlockPeers(t *testing.T) {
	b := NewBroadcast(testLogger())
	b.Open("m1", &State{MatchID: "m1"})

	slow := make(chan Message) // unbuffered and never read
	fast := make(chan Message, 16)
	subSlow, _, err := b.Join("m1", slow)
	require.NoError(t, err)
	defer subSlow.Unsubscribe()
	subFast, _, err := b.Join("m1", fast)
	require.NoError(t, err)
	defer subFast.Unsubscribe()

	for i := 1; i <= 5; i++ {
		b.Publish(&State{MatchID: "m1", Tick: i})
	}
	require.Len(t, fast, 5, "intermediate frames skip the stalled subscriber without delay")
}

func TestArenaRunsMatchToCompletion(t *testing.T) {
	config := fastConfig()
	config.MaxTicks = 100
	arena := NewArena(config, testLogger())
	defer arena.Shutdown()

	matchID, err := arena.CreateMatch(duelDeployments())
	require.NoError(t, err)
	require.Contains(t, arena.ActiveMatches(), matchID)

	ch := make(chan Message, 256)
	sub, latest, err := arena.Broadcast().Join(matchID, ch)
	if err != nil {
		// The duel can finish before we join; the match result is still
		// queryable through the simulator.
		require.ErrorIs(t, err, ErrUnknownMatch)
	} else {
		defer sub.Unsubscribe()
		require.NotNil(t, latest)
	}

	sim, err := arena.Match(matchID)
	require.NoError(t, err)
	select {
	case <-sim.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("match did not complete")
	}

	final := sim.Snapshot()
	require.Equal(t, TeamP1, final.Result.Winner)
	require.Eventually(t, func() bool {
		return len(arena.ActiveMatches()) == 0
	}, time.Second, time.Millisecond)
	require.Zero(t, arena.Broadcast().Rooms())
}

func TestArenaSubscriberSeesOrderedTicks(t *testing.T) {
	config := DefaultConfig
	config.SpeedMultiplier = 10
	config.MaxTicks = 50
	arena := NewArena(config, testLogger())
	defer arena.Shutdown()

	// Stalemate so the match is guaranteed to outlive the join.
	matchID, err := arena.CreateMatch(stalemateDeployments())
	require.NoError(t, err)

	ch := make(chan Message, 1024)
	sub, _, err := arena.Broadcast().Join(matchID, ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	prev := -1
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-ch:
			require.Greater(t, msg.Snapshot.Tick, prev, "ticks arrive strictly increasing")
			prev = msg.Snapshot.Tick
			if msg.Type == MessageCompleted {
				require.Equal(t, ReasonTimeout, msg.Result.Reason)
				return
			}
		case <-deadline:
			t.Fatal("completion frame never arrived")
		}
	}
}

func TestArenaStopMatch(t *testing.T) {
	arena := NewArena(fastConfig(), testLogger())
	defer arena.Shutdown()

	matchID, err := arena.CreateMatch(stalemateDeployments())
	require.NoError(t, err)
	require.NoError(t, arena.StopMatch(matchID))

	sim, err := arena.Match(matchID)
	require.NoError(t, err)
	require.Equal(t, TeamDraw, sim.Snapshot().Result.Winner)

	require.ErrorIs(t, arena.StopMatch("nope"), ErrMatchNotFound)
}

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
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
)

var (
	// ErrNoDeployments is returned when a side has no units at setup.
	ErrNoDeployments = errors.New("both teams need at least one unit")
)

// Simulator runs one match to completion. A single goroutine owns the live
// state; everything leaving the simulator is a deep copy, so subscribers
// never observe mid-tick state.
type Simulator struct {
	config Config
	logger log.Logger
	engine *engine

	mu      sync.Mutex
	state   *State
	started bool
	paused  bool
	resume  chan struct{}

	stopOnce sync.Once
	stopc    chan struct{}
	done     chan struct{}

	onState    func(*State)
	onComplete func(*State)
}

// NewSimulator initializes a match from deployments. Units are numbered
// ascending in deployment order starting at 1; every unit spawns alive at
// full health on tick 0.
func NewSimulator(matchID string, deployments []Deployment, config Config, logger log.Logger) (*Simulator, error) {
	logger = logger.New("module", "combat", "match", matchID)
	config = (&config).sanitize(logger)

	state := &State{MatchID: matchID, Status: MatchPending}
	teams := map[TeamID]int{}
	for i, dep := range deployments {
		if err := dep.validate(); err != nil {
			return nil, fmt.Errorf("deployment %d: %w", i, err)
		}
		if !config.contains(dep.Position) {
			return nil, fmt.Errorf("deployment %d: position (%d,%d) outside %dx%d grid", i, dep.Position.Q, dep.Position.R, config.GridWidth, config.GridHeight)
		}
		unit := &Unit{
			ID:        i + 1,
			Owner:     dep.Owner,
			Position:  dep.Position,
			Health:    dep.Health,
			MaxHealth: dep.Health,
			Stats:     dep.Stats,
			Facing:    -1,
			Status:    UnitAlive,
		}
		state.Units = append(state.Units, unit)
		state.Events = append(state.Events, Event{Tick: 0, Type: EventSpawn, Victim: unit.ID})
		teams[dep.Owner]++
	}
	if teams[TeamP1] == 0 || teams[TeamP2] == 0 {
		return nil, ErrNoDeployments
	}
	sort.Slice(state.Units, func(i, j int) bool { return state.Units[i].ID < state.Units[j].ID })

	return &Simulator{
		config: config,
		logger: logger,
		engine: newEngine(config),
		state:  state,
		resume: make(chan struct{}),
		stopc:  make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Config returns the sanitized simulation configuration.
func (s *Simulator) Config() Config { return s.config }

// Start schedules the tick loop. The tick-0 snapshot goes to onState before
// any resolution happens. Starting a running simulator is a no-op.
func (s *Simulator) Start(onState, onComplete func(*State)) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.onState, s.onComplete = onState, onComplete
	s.state.Status = MatchRunning
	snapshot := s.state.Clone()
	s.mu.Unlock()

	if onState != nil {
		onState(snapshot)
	}
	s.logger.Info("Match started", "units", len(snapshot.Units), "tick_rate", s.config.TickRate, "speed", s.config.SpeedMultiplier)
	go s.loop()
}

// Pause suspends ticking, preserving the current tick. No-op when paused.
func (s *Simulator) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.resume = make(chan struct{})
	}
}

// Resume continues ticking from the preserved tick.
func (s *Simulator) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resume)
	}
}

// Stop forces termination. A match stopped before a natural result completes
// as a timeout draw. Stop blocks until the loop has wound down.
func (s *Simulator) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = true // a later Start must stay a no-op
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopc)
		if !started {
			// No loop is running to observe the stop signal.
			s.abort()
		}
	})
	<-s.done
}

// Done is closed when the match has completed.
func (s *Simulator) Done() <-chan struct{} { return s.done }

// Snapshot returns a deep copy of the current state.
func (s *Simulator) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// loop is the fixed-timestep scheduler. Deadlines derive from the previous
// deadline, not from "now", so jitter does not accumulate; a tick that
// overruns its slot makes the next tick fire immediately instead of drifting.
func (s *Simulator) loop() {
	interval := time.Duration(float64(time.Second) / (float64(s.config.TickRate) * s.config.SpeedMultiplier))
	timer := time.NewTimer(interval)
	defer timer.Stop()
	next := time.Now().Add(interval)

	for {
		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)

		select {
		case <-s.stopc:
			s.abort()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if s.paused {
			resume := s.resume
			s.mu.Unlock()
			select {
			case <-s.stopc:
				s.abort()
				return
			case <-resume:
			}
			next = time.Now().Add(interval)
			continue
		}

		s.engine.step(s.state)
		if verdict := Evaluate(s.state, s.config.MaxTicks); verdict.GameOver {
			s.state.Status = MatchCompleted
			s.state.Result = &Result{Winner: verdict.Winner, Reason: verdict.Reason, DurationTicks: s.state.Tick}
			final := s.state.Clone()
			s.mu.Unlock()
			s.complete(final)
			return
		}
		snapshot := s.state.Clone()
		s.mu.Unlock()

		if s.onState != nil {
			s.onState(snapshot)
		}

		next = next.Add(interval)
		if now := time.Now(); next.Before(now) {
			next = now
		}
	}
}

// abort finishes a force-stopped match as a timeout draw.
func (s *Simulator) abort() {
	s.mu.Lock()
	if s.state.Status == MatchCompleted {
		s.mu.Unlock()
		close(s.done)
		return
	}
	s.state.Status = MatchCompleted
	s.state.Result = &Result{Winner: TeamDraw, Reason: ReasonTimeout, DurationTicks: s.state.Tick}
	final := s.state.Clone()
	s.mu.Unlock()
	s.complete(final)
}

func (s *Simulator) complete(final *State) {
	if s.onComplete != nil {
		s.onComplete(final)
	}
	s.logger.Info("Match completed", "winner", final.Result.Winner, "reason", final.Result.Reason, "ticks", final.Result.DurationTicks)
	close(s.done)
}

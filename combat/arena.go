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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	log "github.com/inconshreveable/log15"
)

// ErrMatchNotFound is returned for operations on matches the arena has never
// seen.
var ErrMatchNotFound = errors.New("match not found")

// Arena owns the running matches: it mints match ids, wires each simulator to
// its broadcast room and reaps rooms on completion.
type Arena struct {
	config    Config
	logger    log.Logger
	broadcast *Broadcast

	mu      sync.Mutex
	matches map[string]*Simulator
	active  mapset.Set[string]
}

// NewArena creates an empty arena with the given per-match configuration.
func NewArena(config Config, logger log.Logger) *Arena {
	return &Arena{
		config:    config,
		logger:    logger.New("module", "combat"),
		broadcast: NewBroadcast(logger),
		matches:   make(map[string]*Simulator),
		active:    mapset.NewSet[string](),
	}
}

// Broadcast returns the arena's broadcast registry.
func (a *Arena) Broadcast() *Broadcast { return a.broadcast }

// CreateMatch initializes a match from deployments and starts it. The match's
// room is open before the first snapshot is published, so an immediately
// joining subscriber observes tick 0.
func (a *Arena) CreateMatch(deployments []Deployment) (string, error) {
	matchID := uuid.NewString()
	sim, err := NewSimulator(matchID, deployments, a.config, a.logger)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.matches[matchID] = sim
	a.active.Add(matchID)
	a.mu.Unlock()

	a.broadcast.Open(matchID, sim.Snapshot())
	sim.Start(a.broadcast.Publish, func(final *State) {
		a.broadcast.Complete(final)
		a.mu.Lock()
		a.active.Remove(matchID)
		a.mu.Unlock()
	})
	return matchID, nil
}

// Match returns the simulator for a match id. Completed matches remain
// addressable until Remove.
func (a *Arena) Match(matchID string) (*Simulator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sim, ok := a.matches[matchID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return sim, nil
}

// StopMatch forces a match to terminate.
func (a *Arena) StopMatch(matchID string) error {
	sim, err := a.Match(matchID)
	if err != nil {
		return err
	}
	sim.Stop()
	return nil
}

// Remove forgets a completed match. Running matches are stopped first.
func (a *Arena) Remove(matchID string) error {
	sim, err := a.Match(matchID)
	if err != nil {
		return err
	}
	sim.Stop()
	a.mu.Lock()
	delete(a.matches, matchID)
	a.active.Remove(matchID)
	a.mu.Unlock()
	return nil
}

// ActiveMatches returns the ids of matches still running.
func (a *Arena) ActiveMatches() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active.ToSlice()
}

// Shutdown stops every running match and waits for their loops to exit.
func (a *Arena) Shutdown() {
	a.mu.Lock()
	sims := make([]*Simulator, 0, len(a.matches))
	for _, sim := range a.matches {
		sims = append(sims, sim)
	}
	a.mu.Unlock()

	for _, sim := range sims {
		sim.Stop()
	}
	a.logger.Info("Arena shut down", "matches", len(sims))
}

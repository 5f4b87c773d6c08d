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

// Package combat implements the deterministic hex-grid battle simulator:
// fixed-timestep match orchestration, per-tick unit AI and attack resolution,
// victory detection and per-match snapshot broadcast.
package combat

import "fmt"

// TeamID identifies one of the two sides of a match.
type TeamID string

const (
	TeamP1   TeamID = "p1"
	TeamP2   TeamID = "p2"
	TeamDraw TeamID = "draw" // result-only pseudo team
)

// Opponent returns the other side.
func (t TeamID) Opponent() TeamID {
	if t == TeamP1 {
		return TeamP2
	}
	return TeamP1
}

// UnitStatus is a unit's liveness.
type UnitStatus string

const (
	UnitAlive UnitStatus = "alive"
	UnitDead  UnitStatus = "dead"
)

// MatchStatus is a match's lifecycle state.
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchRunning   MatchStatus = "running"
	MatchCompleted MatchStatus = "completed"
)

// Reason explains a match result.
type Reason string

const (
	ReasonElimination       Reason = "elimination"
	ReasonTimeout           Reason = "timeout"
	ReasonSimultaneousDeath Reason = "simultaneous_death"
)

// Stats are a unit's combat parameters, fixed for the match.
type Stats struct {
	Damage           int     `json:"damage"`
	Armor            int     `json:"armor"`
	Range            int     `json:"range"`
	MoveSpeed        int     `json:"move_speed"` // hexes per second
	AttacksPerSecond float64 `json:"attacks_per_second"`
}

// Unit is one combatant. Target is the unit id of the current target, 0 when
// none. Facing is the last movement or attack direction (0..5, -1 initially).
type Unit struct {
	ID         int        `json:"unit_id"`
	Owner      TeamID     `json:"owner"`
	Position   Hex        `json:"position"`
	Health     int        `json:"health"`
	MaxHealth  int        `json:"max_health"`
	Stats      Stats      `json:"stats"`
	Cooldown   int        `json:"attack_cooldown"`
	Target     int        `json:"current_target,omitempty"`
	Facing     int        `json:"facing"`
	Status     UnitStatus `json:"status"`
	moveCredit int        // accumulated speed units, one step per tickRate
}

// Alive reports whether the unit still acts.
func (u *Unit) Alive() bool { return u.Status == UnitAlive }

// EventType tags a combat event.
type EventType string

const (
	EventSpawn  EventType = "spawn"
	EventDamage EventType = "damage"
	EventDeath  EventType = "death"
)

// Event is one entry of the bounded per-match event log.
type Event struct {
	Tick   int       `json:"tick"`
	Type   EventType `json:"type"`
	Actor  int       `json:"actor_id,omitempty"`
	Victim int       `json:"victim_id,omitempty"`
	Amount int       `json:"amount,omitempty"`
	Crit   bool      `json:"crit,omitempty"`
}

// Result is the terminal outcome of a match.
type Result struct {
	Winner        TeamID `json:"winner"`
	Reason        Reason `json:"reason"`
	DurationTicks int    `json:"duration_ticks"`
}

// State is a per-match snapshot. The simulator goroutine exclusively owns the
// live instance; everything published outward is a deep copy.
type State struct {
	MatchID string      `json:"match_id"`
	Tick    int         `json:"tick"`
	Status  MatchStatus `json:"status"`
	Units   []*Unit     `json:"units"` // ascending unit id
	Events  []Event     `json:"events"`
	Result  *Result     `json:"result,omitempty"`
}

// Clone returns a deep copy safe to hand to subscribers.
func (s *State) Clone() *State {
	c := &State{
		MatchID: s.MatchID,
		Tick:    s.Tick,
		Status:  s.Status,
		Units:   make([]*Unit, len(s.Units)),
		Events:  append([]Event(nil), s.Events...),
	}
	for i, u := range s.Units {
		unit := *u
		c.Units[i] = &unit
	}
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	return c
}

// Unit returns the unit with the given id, or nil.
func (s *State) Unit(id int) *Unit {
	for _, u := range s.Units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// AliveCount returns how many of the team's units still stand.
func (s *State) AliveCount(team TeamID) int {
	n := 0
	for _, u := range s.Units {
		if u.Owner == team && u.Alive() {
			n++
		}
	}
	return n
}

// TotalHealth sums the remaining health of the team's alive units.
func (s *State) TotalHealth(team TeamID) int {
	total := 0
	for _, u := range s.Units {
		if u.Owner == team && u.Alive() {
			total += u.Health
		}
	}
	return total
}

// Deployment places one unit at match setup.
type Deployment struct {
	Owner    TeamID `json:"owner"`
	Position Hex    `json:"position"`
	Health   int    `json:"health"`
	Stats    Stats  `json:"stats"`
}

func (d *Deployment) validate() error {
	switch {
	case d.Owner != TeamP1 && d.Owner != TeamP2:
		return fmt.Errorf("unknown owner %q", d.Owner)
	case d.Health <= 0:
		return fmt.Errorf("health must be positive, got %d", d.Health)
	case d.Stats.Range < 1:
		return fmt.Errorf("range must be at least 1, got %d", d.Stats.Range)
	case d.Stats.AttacksPerSecond <= 0:
		return fmt.Errorf("attacks_per_second must be positive, got %v", d.Stats.AttacksPerSecond)
	}
	return nil
}

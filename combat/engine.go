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
	"math"
	"math/rand"

	log "github.com/inconshreveable/log15"
)

// Config tunes a match simulation.
type Config struct {
	TickRate        int     // simulation ticks per second
	MaxTicks        int     // timeout bound
	SpeedMultiplier float64 // wall-clock pacing only, never affects resolution
	GridWidth       int
	GridHeight      int
	EventRetention  int // ticks of event history kept
	AggroRange      int // target selection radius in hexes; 0 means unlimited

	// Critical hits are off by default. With a non-zero chance the rule
	// stays reproducible: rolls come from a seeded generator.
	CritChance     float64
	CritMultiplier int
	Seed           int64
}

// DefaultConfig is the default simulation configuration.
var DefaultConfig = Config{
	TickRate:        60,
	MaxTicks:        3600,
	SpeedMultiplier: 1.0,
	GridWidth:       20,
	GridHeight:      10,
	EventRetention:  120,
	CritMultiplier:  2,
}

func (config *Config) sanitize(logger log.Logger) Config {
	conf := *config
	if conf.TickRate < 1 {
		logger.Warn("Sanitizing tick rate", "provided", conf.TickRate, "updated", DefaultConfig.TickRate)
		conf.TickRate = DefaultConfig.TickRate
	}
	if conf.MaxTicks < 1 {
		logger.Warn("Sanitizing max ticks", "provided", conf.MaxTicks, "updated", DefaultConfig.MaxTicks)
		conf.MaxTicks = DefaultConfig.MaxTicks
	}
	if conf.SpeedMultiplier <= 0 {
		conf.SpeedMultiplier = 1.0
	}
	if conf.GridWidth < 2 {
		conf.GridWidth = DefaultConfig.GridWidth
	}
	if conf.GridHeight < 1 {
		conf.GridHeight = DefaultConfig.GridHeight
	}
	if conf.EventRetention < 1 {
		conf.EventRetention = DefaultConfig.EventRetention
	}
	if conf.AggroRange < 0 {
		conf.AggroRange = 0
	}
	if conf.CritChance < 0 || conf.CritChance > 1 {
		logger.Warn("Sanitizing crit chance", "provided", conf.CritChance, "updated", 0)
		conf.CritChance = 0
	}
	if conf.CritMultiplier < 2 {
		conf.CritMultiplier = DefaultConfig.CritMultiplier
	}
	return conf
}

// engine advances a match state one tick at a time. It is not safe for
// concurrent use; the owning simulator serializes access.
type engine struct {
	config Config
	rng    *rand.Rand
}

func newEngine(config Config) *engine {
	return &engine{config: config, rng: rand.New(rand.NewSource(config.Seed))}
}

// step resolves one tick on the state in place: decisions, attacks, deaths,
// cooldowns, event pruning. Traversal is ascending unit id throughout.
func (e *engine) step(state *State) {
	state.Tick++

	type strike struct {
		attacker, defender int
	}
	var strikes []strike

	for _, unit := range state.Units {
		if !unit.Alive() {
			continue
		}
		target := e.chooseTarget(state, unit)
		if target == nil {
			unit.Target = 0
			continue
		}
		unit.Target = target.ID

		if unit.Position.Distance(target.Position) > unit.Stats.Range {
			e.moveToward(unit, target.Position)
		}
		if unit.Cooldown == 0 && unit.Position.Distance(target.Position) <= unit.Stats.Range {
			strikes = append(strikes, strike{unit.ID, target.ID})
		}
	}

	for _, s := range strikes {
		attacker, defender := state.Unit(s.attacker), state.Unit(s.defender)
		if !attacker.Alive() || !defender.Alive() {
			// Killed earlier this tick; the strike fizzles.
			continue
		}
		e.resolveAttack(state, attacker, defender)
	}

	for _, unit := range state.Units {
		if unit.Cooldown > 0 {
			unit.Cooldown--
		}
	}

	e.pruneEvents(state)
}

// chooseTarget keeps the current target while it lives and stays inside the
// aggro radius, otherwise picks the nearest alive enemy in radius with ties
// broken by ascending unit id.
func (e *engine) chooseTarget(state *State, unit *Unit) *Unit {
	if unit.Target != 0 {
		if current := state.Unit(unit.Target); current != nil && current.Alive() && e.inAggro(unit, current) {
			return current
		}
	}
	var nearest *Unit
	nearestDist := math.MaxInt
	for _, candidate := range state.Units {
		if candidate.Owner == unit.Owner || !candidate.Alive() || !e.inAggro(unit, candidate) {
			continue
		}
		if d := unit.Position.Distance(candidate.Position); d < nearestDist {
			nearest, nearestDist = candidate, d
		}
	}
	return nearest
}

func (e *engine) inAggro(unit, candidate *Unit) bool {
	return e.config.AggroRange <= 0 || unit.Position.Distance(candidate.Position) <= e.config.AggroRange
}

// moveToward advances the unit's movement budget and steps it across the
// grid. Speed is hexes per second; the integer credit accumulator avoids
// floating point in the resolution path.
func (e *engine) moveToward(unit *Unit, target Hex) {
	unit.moveCredit += unit.Stats.MoveSpeed
	for unit.moveCredit >= e.config.TickRate {
		unit.moveCredit -= e.config.TickRate
		next, dir := unit.Position.StepToward(target)
		if dir < 0 || !e.inBounds(next) {
			unit.moveCredit = 0
			return
		}
		unit.Position = next
		unit.Facing = dir
	}
}

func (e *engine) inBounds(h Hex) bool {
	return e.config.contains(h)
}

// contains reports whether the hex lies on the grid.
func (config Config) contains(h Hex) bool {
	return h.Q >= 0 && h.Q < config.GridWidth && h.R >= 0 && h.R < config.GridHeight
}

func (e *engine) resolveAttack(state *State, attacker, defender *Unit) {
	damage := attacker.Stats.Damage - defender.Stats.Armor
	if damage < 0 {
		damage = 0
	}
	crit := e.config.CritChance > 0 && e.rng.Float64() < e.config.CritChance
	if crit {
		damage *= e.config.CritMultiplier
	}

	defender.Health -= damage
	if defender.Health < 0 {
		defender.Health = 0
	}
	attacker.Cooldown = cooldownTicks(e.config.TickRate, attacker.Stats.AttacksPerSecond)
	if _, dir := attacker.Position.StepToward(defender.Position); dir >= 0 {
		attacker.Facing = dir
	}

	state.Events = append(state.Events, Event{
		Tick: state.Tick, Type: EventDamage,
		Actor: attacker.ID, Victim: defender.ID, Amount: damage, Crit: crit,
	})

	if defender.Health == 0 {
		defender.Status = UnitDead
		defender.Target = 0
		state.Events = append(state.Events, Event{
			Tick: state.Tick, Type: EventDeath,
			Actor: attacker.ID, Victim: defender.ID,
		})
	}
}

func (e *engine) pruneEvents(state *State) {
	horizon := state.Tick - e.config.EventRetention
	if horizon <= 0 {
		return
	}
	// Events are appended in tick order, so the survivors are a suffix.
	keep := 0
	for keep < len(state.Events) && state.Events[keep].Tick < horizon {
		keep++
	}
	if keep > 0 {
		state.Events = append(state.Events[:0], state.Events[keep:]...)
	}
}

// cooldownTicks converts an attack rate to a per-attack tick delay.
func cooldownTicks(tickRate int, aps float64) int {
	ticks := int(math.Round(float64(tickRate) / aps))
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}

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

// Verdict is the outcome of a victory check.
type Verdict struct {
	GameOver bool
	Winner   TeamID
	Reason   Reason
}

// Evaluate is the pure victory check over a state: mutual elimination wins
// over single elimination, which wins over timeout. On timeout the winner is
// decided by total remaining health, then surviving unit count, then draw.
func Evaluate(state *State, maxTicks int) Verdict {
	p1Alive, p2Alive := state.AliveCount(TeamP1), state.AliveCount(TeamP2)

	switch {
	case p1Alive == 0 && p2Alive == 0:
		return Verdict{GameOver: true, Winner: TeamDraw, Reason: ReasonSimultaneousDeath}
	case p1Alive == 0:
		return Verdict{GameOver: true, Winner: TeamP2, Reason: ReasonElimination}
	case p2Alive == 0:
		return Verdict{GameOver: true, Winner: TeamP1, Reason: ReasonElimination}
	case state.Tick < maxTicks:
		return Verdict{}
	}

	p1Health, p2Health := state.TotalHealth(TeamP1), state.TotalHealth(TeamP2)
	switch {
	case p1Health != p2Health:
		if p1Health > p2Health {
			return Verdict{GameOver: true, Winner: TeamP1, Reason: ReasonTimeout}
		}
		return Verdict{GameOver: true, Winner: TeamP2, Reason: ReasonTimeout}
	case p1Alive != p2Alive:
		if p1Alive > p2Alive {
			return Verdict{GameOver: true, Winner: TeamP1, Reason: ReasonTimeout}
		}
		return Verdict{GameOver: true, Winner: TeamP2, Reason: ReasonTimeout}
	}
	return Verdict{GameOver: true, Winner: TeamDraw, Reason: ReasonTimeout}
}

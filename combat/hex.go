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

// Hex is an axial grid coordinate. All distance and movement math is integer
// so identical inputs replay to identical tick streams.
type Hex struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// hexDirections enumerates the six axial neighbors. The order is part of the
// deterministic contract: movement tie-breaks resolve by the first direction
// that minimizes distance.
var hexDirections = [6]Hex{
	{1, 0}, {1, -1}, {0, -1}, {-1, 0}, {-1, 1}, {0, 1},
}

// Add returns the componentwise sum.
func (h Hex) Add(o Hex) Hex { return Hex{h.Q + o.Q, h.R + o.R} }

// Distance returns the axial hex distance to o.
func (h Hex) Distance(o Hex) int {
	dq := h.Q - o.Q
	dr := h.R - o.R
	return (abs(dq) + abs(dq+dr) + abs(dr)) / 2
}

// Neighbor returns the adjacent hex in direction dir (0..5).
func (h Hex) Neighbor(dir int) Hex {
	return h.Add(hexDirections[dir%6])
}

// StepToward returns the neighbor of h closest to target and the direction
// taken. If h already equals target, h is returned with direction -1.
func (h Hex) StepToward(target Hex) (Hex, int) {
	if h == target {
		return h, -1
	}
	best, bestDir := h, -1
	bestDist := h.Distance(target)
	for dir, delta := range hexDirections {
		next := h.Add(delta)
		if d := next.Distance(target); d < bestDist {
			best, bestDir, bestDist = next, dir, d
		}
	}
	return best, bestDir
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

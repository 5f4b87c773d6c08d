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

package pipeline

import (
	"time"

	"github.com/drawnofwar/arena/queue"
)

// Attributes are the combat-relevant stats derived from a sprite's analysis.
type Attributes struct {
	Health           int     `json:"health"`
	Damage           int     `json:"damage"`
	Armor            int     `json:"armor"`
	AttackRange      int     `json:"attack_range"`
	MoveSpeed        int     `json:"move_speed"`
	AttacksPerSecond float64 `json:"attacks_per_second"`
}

// Creature is the finished generation document: the result payload that is
// cached, persisted and handed to match setup.
type Creature struct {
	JobID       string                  `json:"job_id"`
	Request     queue.GenerationRequest `json:"request"`
	Sprite      *Sprite                 `json:"sprite"`
	Analysis    *Analysis               `json:"analysis"`
	Attributes  Attributes              `json:"attributes"`
	Animations  []*FrameSet             `json:"animations"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// deriveAttributes maps an analysis onto combat stats. The mapping is a pure
// function of the structured fields so identical analyses always produce
// identical creatures.
func deriveAttributes(analysis *Analysis) Attributes {
	attrs := Attributes{
		Health:           100,
		Damage:           10,
		Armor:            2,
		AttackRange:      1,
		MoveSpeed:        2,
		AttacksPerSecond: 1.0,
	}
	switch analysis.Build {
	case "light":
		attrs.Health = 70
		attrs.MoveSpeed = 3
		attrs.AttacksPerSecond = 1.5
	case "heavy":
		attrs.Health = 160
		attrs.Armor = 6
		attrs.MoveSpeed = 1
		attrs.AttacksPerSecond = 0.75
	}
	for _, trait := range analysis.Traits {
		switch trait {
		case "armored":
			attrs.Armor += 4
		case "swift":
			attrs.MoveSpeed++
		case "ranged":
			attrs.AttackRange = 4
			attrs.Damage -= 2
		case "brutal":
			attrs.Damage += 6
		case "frail":
			attrs.Health -= 30
		}
	}
	if attrs.Health < 10 {
		attrs.Health = 10
	}
	if attrs.Damage < 1 {
		attrs.Damage = 1
	}
	return attrs
}

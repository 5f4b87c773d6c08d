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

package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func knightRequest() *GenerationRequest {
	return &GenerationRequest{
		Type:        "character",
		Style:       "pixel-art",
		Size:        SpriteSize{Width: 32, Height: 32},
		Action:      "idle",
		Description: "A brave knight",
		Raw:         "knight",
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint(knightRequest())
	b := Fingerprint(knightRequest())
	require.Equal(t, a, b)
	require.Len(t, a, 64, "sha-256 hex")
}

func TestFingerprintWhitespaceCanonical(t *testing.T) {
	req := knightRequest()
	req.Description = "  A   brave\tknight "
	require.Equal(t, Fingerprint(knightRequest()), Fingerprint(req))
}

func TestFingerprintDistinguishesPrompts(t *testing.T) {
	base := Fingerprint(knightRequest())

	mutations := []func(*GenerationRequest){
		func(r *GenerationRequest) { r.Description = "A brave knight!" },
		func(r *GenerationRequest) { r.Style = "watercolor" },
		func(r *GenerationRequest) { r.Size.Width = 64 },
		func(r *GenerationRequest) { r.Action = "attack" },
		func(r *GenerationRequest) { r.TextGuidanceScale = 7.5 },
		func(r *GenerationRequest) { r.Image = []byte{0x89, 0x50, 0x4e, 0x47} },
	}
	for i, mutate := range mutations {
		req := knightRequest()
		mutate(req)
		require.NotEqual(t, base, Fingerprint(req), "mutation %d must change the fingerprint", i)
	}
}

func TestFingerprintFieldsDoNotBleed(t *testing.T) {
	a := &GenerationRequest{Type: "character", Style: "x", Size: SpriteSize{1, 1}, Description: "ab", Raw: "c"}
	b := &GenerationRequest{Type: "character", Style: "x", Size: SpriteSize{1, 1}, Description: "a", Raw: "bc"}
	require.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

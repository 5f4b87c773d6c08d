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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint derives the stable identity of a generation request. The hash
// is computed over a canonical key-ordered rendering, so it is independent of
// how the request was represented on the wire, and request text is
// whitespace-normalized first. Identical prompts hash identically across
// restarts; distinct prompts collide only with cryptographic probability.
func Fingerprint(req *GenerationRequest) string {
	h := sha256.New()
	// Fixed key order; one line per field so no field can bleed into the next.
	fmt.Fprintf(h, "action=%s\n", canonText(req.Action))
	fmt.Fprintf(h, "description=%s\n", canonText(req.Description))
	fmt.Fprintf(h, "raw=%s\n", canonText(req.Raw))
	fmt.Fprintf(h, "size=%dx%d\n", req.Size.Width, req.Size.Height)
	fmt.Fprintf(h, "style=%s\n", canonText(req.Style))
	fmt.Fprintf(h, "text_guidance_scale=%g\n", req.TextGuidanceScale)
	fmt.Fprintf(h, "type=%s\n", canonText(req.Type))
	if len(req.Image) > 0 {
		imageSum := sha256.Sum256(req.Image)
		fmt.Fprintf(h, "image=%x\n", imageSum)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonText collapses runs of whitespace to single spaces and trims the ends,
// so formatting-only differences don't defeat the cache.
func canonText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

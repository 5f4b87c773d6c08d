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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/drawnofwar/arena/queue"
)

// Direction is a sprite facing used by the animation stage.
type Direction string

const (
	DirectionEast      Direction = "east"
	DirectionNorthEast Direction = "north-east"
	DirectionSouthEast Direction = "south-east"
)

// Directions lists every facing an animation set covers, in generation order.
var Directions = []Direction{DirectionEast, DirectionNorthEast, DirectionSouthEast}

// Animation names a generated frame sequence.
type Animation string

const (
	AnimationWalk   Animation = "walk"
	AnimationIdle   Animation = "idle"
	AnimationAttack Animation = "attack"
)

// Animations lists every sequence generated per facing.
var Animations = []Animation{AnimationWalk, AnimationIdle, AnimationAttack}

// Sprite is a rendered image returned by the generation service.
type Sprite struct {
	Data   []byte `json:"data"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Analysis is the vision service's structured description of a sprite.
type Analysis struct {
	Species    string   `json:"species"`
	Build      string   `json:"build"`
	Traits     []string `json:"traits"`
	Confidence float64  `json:"confidence"`
}

// FrameSet is one animation sequence for one facing.
type FrameSet struct {
	Direction Direction `json:"direction"`
	Animation Animation `json:"animation"`
	Frames    [][]byte  `json:"frames"`
	FrameRate int       `json:"frame_rate"`
}

// ImageGenerator renders the base sprite for a prompt.
type ImageGenerator interface {
	GenerateSprite(ctx context.Context, req *queue.GenerationRequest) (*Sprite, error)
}

// VisionAnalyzer extracts a structured description from a rendered sprite.
type VisionAnalyzer interface {
	AnalyzeSprite(ctx context.Context, sprite *Sprite) (*Analysis, error)
}

// Animator produces directional animation sequences from a base sprite.
type Animator interface {
	Animate(ctx context.Context, sprite *Sprite, dir Direction, anim Animation) (*FrameSet, error)
}

// ClientConfig carries the endpoints and per-call deadlines of the external
// services the pipeline depends on.
type ClientConfig struct {
	GeneratorURL string
	VisionURL    string
	AnimatorURL  string

	GenerateTimeout time.Duration
	AnalyzeTimeout  time.Duration
	AnimateTimeout  time.Duration
}

// DefaultClientConfig carries the deadlines the external services are
// provisioned for.
var DefaultClientConfig = ClientConfig{
	GenerateTimeout: 60 * time.Second,
	AnalyzeTimeout:  30 * time.Second,
	AnimateTimeout:  45 * time.Second,
}

// Client talks to the three external services over HTTP. It implements
// ImageGenerator, VisionAnalyzer and Animator; every failure surfaces as a
// categorized *Error.
type Client struct {
	config ClientConfig
	http   *http.Client
	logger log.Logger
}

// NewClient creates a service client. A nil httpClient falls back to a
// default transport; deadlines are applied per call, not per client.
func NewClient(config ClientConfig, httpClient *http.Client, logger log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if config.GenerateTimeout <= 0 {
		config.GenerateTimeout = DefaultClientConfig.GenerateTimeout
	}
	if config.AnalyzeTimeout <= 0 {
		config.AnalyzeTimeout = DefaultClientConfig.AnalyzeTimeout
	}
	if config.AnimateTimeout <= 0 {
		config.AnimateTimeout = DefaultClientConfig.AnimateTimeout
	}
	return &Client{config: config, http: httpClient, logger: logger.New("module", "pipeline")}
}

// GenerateSprite implements ImageGenerator.
func (c *Client) GenerateSprite(ctx context.Context, req *queue.GenerationRequest) (*Sprite, error) {
	var sprite Sprite
	if err := c.call(ctx, c.config.GeneratorURL+"/v1/generate", c.config.GenerateTimeout, req, &sprite); err != nil {
		return nil, err
	}
	if len(sprite.Data) == 0 {
		return nil, NewError(CategoryServerError, "generator returned an empty sprite", nil)
	}
	return &sprite, nil
}

// AnalyzeSprite implements VisionAnalyzer.
func (c *Client) AnalyzeSprite(ctx context.Context, sprite *Sprite) (*Analysis, error) {
	var analysis Analysis
	if err := c.call(ctx, c.config.VisionURL+"/v1/analyze", c.config.AnalyzeTimeout, sprite, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

type animateRequest struct {
	Sprite    *Sprite   `json:"sprite"`
	Direction Direction `json:"direction"`
	Animation Animation `json:"animation"`
}

// Animate implements Animator.
func (c *Client) Animate(ctx context.Context, sprite *Sprite, dir Direction, anim Animation) (*FrameSet, error) {
	var frames FrameSet
	req := &animateRequest{Sprite: sprite, Direction: dir, Animation: anim}
	if err := c.call(ctx, c.config.AnimatorURL+"/v1/animate", c.config.AnimateTimeout, req, &frames); err != nil {
		return nil, err
	}
	frames.Direction, frames.Animation = dir, anim
	return &frames, nil
}

// call runs one JSON request/response round trip under its own deadline and
// classifies every failure mode into the taxonomy.
func (c *Client) call(ctx context.Context, url string, timeout time.Duration, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return NewError(CategoryInvalidRequest, "request not serializable", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return NewError(CategoryInvalidRequest, "malformed service url", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return NewError(CategoryTimeout, fmt.Sprintf("no response within %v", timeout), err)
		}
		return NewError(CategoryNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return NewError(CategoryNetwork, "response read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		cerr := classifyResponse(resp, string(payload))
		c.logger.Debug("Service call rejected", "url", url, "status", resp.StatusCode, "category", cerr.Category, "elapsed", time.Since(start))
		return cerr
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return NewError(CategoryServerError, "undecodable response body", err)
	}
	return nil
}

// Copyright 2025 the bili-digest authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package analysis implements the visual-analysis variants and the speech
// recognition adapter for the pipeline.
//
// Logic Flow:
// The `Dispatcher` is configured once, at startup, from the visual method in
// the configuration. There is no runtime probing: a method of "host" uses
// the vision model the embedding application supplied, "client" talks to a
// self-configured OpenAI-compatible or Gemini endpoint, "video" ships the
// whole file to a video-understanding API, and "none" disables the branch.
//
// Regardless of backend, the dispatcher owns three guarantees:
//  1. The grounding constraint is appended to every prompt, including
//     operator overrides.
//  2. Every description is hard-truncated to the configured rune ceiling.
//  3. Videos longer than the visual duration ceiling skip the branch
//     entirely, before any frame is sampled or byte uploaded.
//
// A backend failure after its retry budget surfaces as a *VisualError. The
// orchestrator downgrades the run to a partial result rather than failing
// it, because transcript and metadata signal may still exist.
package analysis

import (
	"context"
	"fmt"

	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/core/model"
	"github.com/baize-lab/bili-digest/internal/retry"
)

// FrameDescriber produces a description of one still image under the given
// prompt. Implementations wrap a single provider and perform their own rate
// limiting, but not retries; the dispatcher owns the retry policy.
type FrameDescriber interface {
	DescribeFrame(ctx context.Context, imagePath string, prompt string) (string, error)
}

// VideoDescriber produces a holistic description of a whole video file.
type VideoDescriber interface {
	DescribeVideo(ctx context.Context, videoPath string, prompt string) (string, error)
}

// VisualError reports a visual backend that failed after exhausting its
// retries. It marks the run partial, never failed.
type VisualError struct {
	Method string
	Err    error
}

func (e *VisualError) Error() string {
	return fmt.Sprintf("visual analysis (%s) failed: %v", e.Method, e.Err)
}
func (e *VisualError) Unwrap() error { return e.Err }

// Dispatcher routes sampled frames or the whole video to the selected
// backend and enforces the prompt and truncation policy.
type Dispatcher struct {
	method  string
	backend config.VisualBackend
	frames  FrameDescriber
	video   VideoDescriber
}

// NewDispatcher wires the selected visual method.
//
// Inputs:
//   - cfg: The analysis section of the configuration.
//   - frames: The frame backend for the "host" and "client" methods; nil
//     otherwise.
//   - video: The backend for the "video" method; nil otherwise.
//
// Outputs:
//   - *Dispatcher: The configured dispatcher.
//   - error: When the selected method has no matching backend wired.
func NewDispatcher(cfg config.Analysis, frames FrameDescriber, video VideoDescriber) (*Dispatcher, error) {
	d := &Dispatcher{method: cfg.VisualMethod, backend: cfg.Backend(), frames: frames, video: video}
	switch cfg.VisualMethod {
	case config.VisualNone:
	case config.VisualHost, config.VisualClient:
		if frames == nil {
			return nil, fmt.Errorf("visual method %q selected but no frame backend is configured", cfg.VisualMethod)
		}
	case config.VisualVideo:
		if video == nil {
			return nil, fmt.Errorf("visual method %q selected but no video backend is configured", cfg.VisualMethod)
		}
	default:
		return nil, fmt.Errorf("unknown visual method %q", cfg.VisualMethod)
	}
	return d, nil
}

// Method returns the selected visual method name.
func (d *Dispatcher) Method() string { return d.method }

// Enabled reports whether the visual branch runs at all.
func (d *Dispatcher) Enabled() bool { return d.method != config.VisualNone }

// WantsFrames reports whether the pipeline must sample still frames before
// calling Analyze. The "video" method uploads the file as-is.
func (d *Dispatcher) WantsFrames() bool {
	return d.method == config.VisualHost || d.method == config.VisualClient
}

// WithinDurationCeiling reports whether a video of the given length is
// eligible for visual analysis. A zero ceiling disables the branch for every
// duration.
func (d *Dispatcher) WithinDurationCeiling(durationSec float64) bool {
	return d.backend.VisualMaxDurationMin > 0 && durationSec <= d.backend.VisualMaxDurationMin*60
}

// FramePolicy exposes the sampling limits the media scheduler needs.
func (d *Dispatcher) FramePolicy() (maxFrames int, minIntervalSec float64) {
	return d.backend.MaxFrames, d.backend.MinIntervalSec
}

// DescribeFrames runs the frame backend over each sampled frame in order.
// Descriptions are truncated to the configured ceiling. Frame offsets and
// paths must be parallel slices.
func (d *Dispatcher) DescribeFrames(ctx context.Context, framePaths []string, offsets []float64) ([]model.FrameDescription, error) {
	prompt := framePrompt(d.backend.FramePrompt)
	rc := retry.Config{MaxAttempts: d.backend.MaxAttempts, Interval: d.backend.Retry().Interval()}

	out := make([]model.FrameDescription, 0, len(framePaths))
	for i, p := range framePaths {
		path := p
		text, err := retry.Do(ctx, rc, "analysis.frame", func(ctx context.Context) (string, error) {
			return d.frames.DescribeFrame(ctx, path, prompt)
		})
		if err != nil {
			return nil, &VisualError{Method: d.method, Err: err}
		}
		out = append(out, model.FrameDescription{
			OffsetSeconds: offsets[i],
			Text:          truncate(text, d.backend.MaxDescriptionChars),
			Backend:       d.method,
		})
	}
	return out, nil
}

// DescribeVideo runs the holistic video backend against the downloaded file.
func (d *Dispatcher) DescribeVideo(ctx context.Context, videoPath string) (string, error) {
	prompt := videoPrompt(d.backend.VideoPrompt, d.backend.SummaryMinChars, d.backend.SummaryMaxChars)
	rc := retry.Config{MaxAttempts: d.backend.MaxAttempts, Interval: d.backend.Retry().Interval()}

	text, err := retry.Do(ctx, rc, "analysis.video", func(ctx context.Context) (string, error) {
		return d.video.DescribeVideo(ctx, videoPath, prompt)
	})
	if err != nil {
		return "", &VisualError{Method: d.method, Err: err}
	}
	if d.backend.SummaryMaxChars > 0 {
		text = truncate(text, d.backend.SummaryMaxChars)
	}
	return text, nil
}

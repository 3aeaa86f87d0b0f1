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

// Package media wraps the FFmpeg and FFprobe executables for audio track
// extraction and still-frame sampling.
//
// Logic Flow:
// The `Extractor` probes for both executables exactly once at construction.
// When a binary is missing every operation short-circuits with
// `ErrUnavailable` instead of failing per call, which lets callers decide
// up front whether the visual and speech paths of a run are viable.
//
// Audio extraction downmixes to a mono 16 kHz WAV, the input format speech
// recognizers expect. Frame sampling runs one seek per offset rather than a
// single fps filter pass: a handful of `-ss` invocations against a keyframe
// is far cheaper than decoding the whole stream, and the offsets come from
// `FrameSchedule` rather than a fixed rate.
package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrUnavailable is returned by every Extractor operation when the required
// executable was not found on PATH at construction time.
var ErrUnavailable = errors.New("media: ffmpeg executables not available")

const framePattern = "frame_%03d.jpg"

// Extractor shells out to FFmpeg and FFprobe. The zero value is not usable;
// construct it with NewExtractor.
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewExtractor resolves the FFmpeg and FFprobe binaries.
//
// Inputs:
//   - ffmpegPath: An explicit path to ffmpeg, or "" to search PATH.
//   - ffprobePath: An explicit path to ffprobe, or "" to search PATH.
//
// Outputs:
//   - *Extractor: The extractor. Operations whose binary could not be
//     resolved return ErrUnavailable.
func NewExtractor(ffmpegPath, ffprobePath string) *Extractor {
	e := &Extractor{}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if p, err := exec.LookPath(ffmpegPath); err == nil {
		e.ffmpegPath = p
	}
	if p, err := exec.LookPath(ffprobePath); err == nil {
		e.ffprobePath = p
	}
	return e
}

// Available reports whether ffmpeg was resolved. Callers use this to decide
// between degrading a run and attempting extraction.
func (e *Extractor) Available() bool { return e.ffmpegPath != "" }

// ExtractAudio writes the audio track of videoPath to wavPath as mono
// 16 kHz PCM. A video without an audio track fails; the caller treats that
// the same as any other extraction failure.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath, wavPath string) error {
	if e.ffmpegPath == "" {
		return ErrUnavailable
	}
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vn", "-ac", "1", "-ar", "16000",
		"-f", "wav", wavPath,
	}
	return e.run(ctx, e.ffmpegPath, args)
}

// ExtractFrames samples one JPEG per offset into framesDir and returns the
// written paths in offset order. A failed seek past the end of a stream
// whose container lied about its duration aborts the whole batch.
func (e *Extractor) ExtractFrames(ctx context.Context, videoPath, framesDir string, offsets []float64) ([]string, error) {
	if e.ffmpegPath == "" {
		return nil, ErrUnavailable
	}
	paths := make([]string, 0, len(offsets))
	for i, off := range offsets {
		out := filepath.Join(framesDir, fmt.Sprintf(framePattern, i+1))
		args := []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-ss", strconv.FormatFloat(off, 'f', 2, 64),
			"-i", videoPath,
			"-frames:v", "1", "-q:v", "2",
			out,
		}
		if err := e.run(ctx, e.ffmpegPath, args); err != nil {
			return nil, fmt.Errorf("frame at %.2fs: %w", off, err)
		}
		paths = append(paths, out)
	}
	return paths, nil
}

// ProbeDuration reads the container duration in seconds via ffprobe. Used
// when the platform metadata omits or misreports the duration.
func (e *Extractor) ProbeDuration(ctx context.Context, videoPath string) (float64, error) {
	if e.ffprobePath == "" {
		return 0, ErrUnavailable
	}
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	}
	out, err := exec.CommandContext(ctx, e.ffprobePath, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}

func (e *Extractor) run(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, msg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(bin), err)
	}
	return nil
}

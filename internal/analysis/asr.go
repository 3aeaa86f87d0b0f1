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

package analysis

import (
	"context"
	"errors"
	"strings"

	"github.com/baize-lab/bili-digest/internal/core/model"
)

// ErrASRUnavailable short-circuits the speech branch when no recognizer is
// wired or the feature is disabled. The pipeline treats it as "no speech
// signal", never as a run failure.
var ErrASRUnavailable = errors.New("analysis: speech recognition not available")

// SpeechToText is the capability a host application provides to transcribe
// an extracted mono 16 kHz WAV file. The pipeline never constructs one.
type SpeechToText interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// Transcriber gates a host-provided recognizer behind the config flag.
type Transcriber struct {
	stt     SpeechToText
	enabled bool
}

// NewTranscriber wires the optional recognizer. A nil stt disables the
// branch regardless of the flag.
func NewTranscriber(stt SpeechToText, enabled bool) *Transcriber {
	return &Transcriber{stt: stt, enabled: enabled && stt != nil}
}

// Enabled reports whether a transcription attempt is worth an audio
// extraction at all.
func (t *Transcriber) Enabled() bool { return t.enabled }

// Transcribe runs the recognizer and wraps its output as a transcript
// fragment. Empty recognizer output yields zero fragments, not an error.
func (t *Transcriber) Transcribe(ctx context.Context, wavPath string) ([]model.TranscriptFragment, error) {
	if !t.enabled {
		return nil, ErrASRUnavailable
	}
	text, err := t.stt.Transcribe(ctx, wavPath)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return []model.TranscriptFragment{{Source: model.SourceASR, Text: text}}, nil
}

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

// Package model defines the core data structures for the pipeline. This file
// holds the AnalysisResult aggregate, the one value the pipeline produces per
// run and the unit the cache persists. The external summarizer consumes it
// and is responsible for turning it into user-facing prose; the pipeline does
// not generate prose itself.
package model

import "time"

// ResultStatus distinguishes complete runs from degraded and policy-skipped
// ones so the summarizing collaborator can hedge its language accordingly.
type ResultStatus string

const (
	// StatusFull means every requested signal was gathered.
	StatusFull ResultStatus = "full"
	// StatusPartial means at least one optional signal (subtitles, ASR,
	// visual) failed or was skipped, but usable content remains.
	StatusPartial ResultStatus = "partial"
	// StatusGated means processing was skipped by policy before download;
	// only metadata is carried.
	StatusGated ResultStatus = "gated"
)

// AnalysisResult aggregates everything a run learned about a video. For the
// holistic video backend HolisticDescription is set and FrameDescriptions is
// empty; the frame backends do the opposite.
type AnalysisResult struct {
	Reference           VideoReference       `json:"reference"`
	Status              ResultStatus         `json:"status"`
	GateReason          GateReason           `json:"gate_reason,omitempty"` // Set when Status is gated.
	Metadata            VideoMetadata        `json:"metadata"`
	Transcript          []TranscriptFragment `json:"transcript,omitempty"`
	FrameDescriptions   []FrameDescription   `json:"frame_descriptions,omitempty"`
	HolisticDescription string               `json:"holistic_description,omitempty"`
	VisualMethod        string               `json:"visual_method"` // "host", "client", "video" or "none".
	// StepNotes records, per optional step, why it produced nothing. It is
	// what makes a partial result explainable without being an error.
	StepNotes map[string]string `json:"step_notes,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// HasSignal reports whether the run gathered any usable content beyond bare
// metadata. A run with no signal at all and no metadata is a failed run, not
// a partial one.
func (r *AnalysisResult) HasSignal() bool {
	return len(r.Transcript) > 0 || len(r.FrameDescriptions) > 0 || r.HolisticDescription != ""
}

// Note records why an optional step produced nothing. Safe on a zero map.
func (r *AnalysisResult) Note(step, reason string) {
	if r.StepNotes == nil {
		r.StepNotes = make(map[string]string)
	}
	r.StepNotes[step] = reason
}

// CacheEntry is the persisted form of a completed (or gated) run. Entries are
// never mutated in place; a changed config fingerprint produces a new key and
// the old entry is simply replaced wholesale.
type CacheEntry struct {
	Key       string         `json:"key"`
	Result    AnalysisResult `json:"result"`
	CreatedAt time.Time      `json:"created_at"`
}

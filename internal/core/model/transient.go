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

// Package model defines the core data structures for the pipeline.
// This file, `transient.go`, contains the in-memory objects that flow between
// commands during a single digest run: the resolved video reference, the
// platform metadata, the gate decision, and the intermediate transcript and
// frame description fragments. None of these are persisted on their own; the
// aggregate AnalysisResult in analysis.go is the unit the cache stores.
package model

import "fmt"

// ReferenceKind identifies the syntactic form a raw identifier was
// recognized as. The canonical id is always either a BV or an av code; a
// short-link is resolved into one of those before the pipeline proceeds.
type ReferenceKind string

const (
	// ReferenceBV is a BV-prefixed alphanumeric id, e.g. "BV1xx411c7XZ".
	ReferenceBV ReferenceKind = "bv"
	// ReferenceAV is an av-prefixed numeric id, e.g. "av170001".
	ReferenceAV ReferenceKind = "av"
	// ReferenceShort is a b23.tv short-link code awaiting resolution.
	ReferenceShort ReferenceKind = "short"
)

// VideoReference is the canonical identity of a video. It is created once by
// the resolver and is immutable afterwards; every downstream component keys
// its work off Canonical (and Page for multi-part videos).
type VideoReference struct {
	Canonical string        `json:"canonical"` // Normalized id, e.g. "BV1xx411c7XZ" or "av170001".
	Kind      ReferenceKind `json:"kind"`      // The form the id was recognized as after resolution.
	Page      int           `json:"page"`      // 1-based part number for multi-part videos.
	Raw       string        `json:"raw"`       // The original user input, kept for diagnostics.
}

// CacheID returns the identity portion of the cache key. Single-part videos
// use the bare canonical id; other parts get a "_pN" suffix so each part is
// cached independently.
func (r VideoReference) CacheID() string {
	if r.Page > 1 {
		return fmt.Sprintf("%s_p%d", r.Canonical, r.Page)
	}
	return r.Canonical
}

// VideoMetadata holds the platform's description of a video, fetched once per
// run and read-only afterwards. Duration and SizeEstimate feed the gate
// decision; Aid and Cid identify the selected part for the subtitle and
// play-url endpoints.
type VideoMetadata struct {
	Aid           int64   `json:"aid"`
	Bvid          string  `json:"bvid"`
	Cid           int64   `json:"cid"`            // Stream id of the selected part.
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Owner         string  `json:"owner"`          // Uploader display name.
	Duration      float64 `json:"duration"`       // Seconds, for the selected part.
	SizeEstimate  int64   `json:"size_estimate"`  // Bytes; zero when the platform gave none.
	Page          int     `json:"page"`           // The part actually selected.
	PageTitle     string  `json:"page_title"`     // Title of the selected part, if any.
	TotalPages    int     `json:"total_pages"`
	TotalDuration float64 `json:"total_duration"` // Sum of all part durations.
	Restricted    bool    `json:"restricted"`     // Age or region restricted.
}

// GateReason explains why a run was allowed to proceed or skipped before any
// download happened.
type GateReason string

const (
	GateProceed      GateReason = "proceed"
	GateSkipTooLong  GateReason = "skip_too_long"
	GateSkipTooLarge GateReason = "skip_too_large"
)

// GateDecision is the policy verdict derived from metadata and the configured
// ceilings. It is computed exactly once, before the download manager runs.
type GateDecision struct {
	Reason GateReason `json:"reason"`
}

// Proceed reports whether full processing is permitted.
func (g GateDecision) Proceed() bool { return g.Reason == GateProceed }

// FragmentSource tags where a transcript fragment came from.
type FragmentSource string

const (
	SourceSubtitle FragmentSource = "subtitle"
	SourceASR      FragmentSource = "asr"
)

// TranscriptFragment is one piece of spoken-word text recovered for a video.
// Zero fragments is a valid terminal state, not an error.
type TranscriptFragment struct {
	Source     FragmentSource `json:"source"`
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence,omitempty"`
}

// FrameDescription is the visual backend's description of one sampled frame.
// Text is hard-truncated to the configured ceiling before it gets here, no
// matter which backend or prompt produced it.
type FrameDescription struct {
	OffsetSeconds float64 `json:"offset_seconds"`
	Text          string  `json:"text"`
	Backend       string  `json:"backend"` // "host", "client" or "video".
}

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

// Package commands provides the concrete pipeline steps of a digest run,
// built on the cor package's Command interface. Each command reads its
// input from the shared context and leaves its product under a named key
// for the steps behind it, in addition to the chain's CtxIn/CtxOut piping.
package commands

// Context keys shared across the digest chain. The chain pipes the primary
// value, but later commands often need more than their direct predecessor
// produced; these keys make the earlier products addressable.
const (
	KeyReference  = "video_reference"
	KeyMetadata   = "video_metadata"
	KeyPlayURL    = "play_url"
	KeyGate       = "gate_decision"
	KeyTranscript = "transcript_fragments"
	KeyFrames     = "frame_descriptions"
	KeyHolistic   = "holistic_description"
	KeyStepNotes  = "step_notes"
	KeyResult     = "analysis_result"
)

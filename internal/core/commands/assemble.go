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

// This file defines the final chain step, folding everything the run
// gathered into one AnalysisResult. Status derivation is mechanical: a
// gated run is "gated", a run with step notes is "partial", everything
// else is "full". Notes are only ever written by steps that failed, so
// their mere presence means degradation; a step that ran and found nothing
// leaves no trace here.
package commands

import (
	"time"

	"github.com/baize-lab/bili-digest/internal/core/cor"
	"github.com/baize-lab/bili-digest/internal/core/model"
)

// AssembleCommand folds the context's products into the run's result.
type AssembleCommand struct {
	cor.BaseCommand
	visualMethod string
}

// NewAssembleCommand is the constructor for AssembleCommand.
//
// Inputs:
//   - name: A string name for this command, used in logs and telemetry.
//   - visualMethod: The configured visual method, recorded on the result.
//
// Outputs:
//   - *AssembleCommand: A pointer to the newly instantiated command.
func NewAssembleCommand(name string, visualMethod string) *AssembleCommand {
	return &AssembleCommand{BaseCommand: *cor.NewBaseCommand(name), visualMethod: visualMethod}
}

// Execute builds the AnalysisResult from the named context keys.
func (c *AssembleCommand) Execute(context cor.Context) {
	ref := context.Get(KeyReference).(model.VideoReference)
	meta := context.Get(KeyMetadata).(model.VideoMetadata)
	gate := context.Get(KeyGate).(model.GateDecision)

	result := &model.AnalysisResult{
		Reference:    ref,
		Metadata:     meta,
		VisualMethod: c.visualMethod,
		CreatedAt:    time.Now().UTC(),
	}
	if transcript, ok := context.Get(KeyTranscript).([]model.TranscriptFragment); ok {
		result.Transcript = transcript
	}
	if frames, ok := context.Get(KeyFrames).([]model.FrameDescription); ok {
		result.FrameDescriptions = frames
	}
	if holistic, ok := context.Get(KeyHolistic).(string); ok {
		result.HolisticDescription = holistic
	}
	if notes, ok := context.Get(KeyStepNotes).(map[string]string); ok && len(notes) > 0 {
		result.StepNotes = notes
	}

	switch {
	case !gate.Proceed():
		result.Status = model.StatusGated
		result.GateReason = gate.Reason
	case len(result.StepNotes) > 0:
		result.Status = model.StatusPartial
	default:
		result.Status = model.StatusFull
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(KeyResult, result)
	context.Add(cor.CtxOut, result)
}

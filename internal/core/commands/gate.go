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

// This file defines the pre-download gate. The decision is computed exactly
// once per run, from metadata alone, before any byte of video is fetched.
// Duration wins over size when both ceilings are exceeded.
package commands

import (
	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/core/cor"
	"github.com/baize-lab/bili-digest/internal/core/model"
)

// GateCommand applies the duration and size ceilings to the fetched
// metadata.
type GateCommand struct {
	cor.BaseCommand
	video config.Video
}

// NewGateCommand is the constructor for GateCommand.
//
// Inputs:
//   - name: A string name for this command, used in logs and telemetry.
//   - video: The gating ceilings.
//
// Outputs:
//   - *GateCommand: A pointer to the newly instantiated command.
func NewGateCommand(name string, video config.Video) *GateCommand {
	return &GateCommand{BaseCommand: *cor.NewBaseCommand(name), video: video}
}

// Execute derives the gate decision from the metadata in the context.
func (c *GateCommand) Execute(context cor.Context) {
	meta := context.Get(c.GetInputParam()).(model.VideoMetadata)

	decision := Decide(meta, c.video)

	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(KeyGate, decision)
	context.Add(cor.CtxOut, decision)
}

// Decide applies the ceilings to one video's metadata. A ceiling of zero or
// below disables that check. The comparison is strict: a video exactly at
// the ceiling proceeds, one second or one byte over does not.
func Decide(meta model.VideoMetadata, video config.Video) model.GateDecision {
	if video.MaxDurationMin > 0 && meta.Duration > video.MaxDurationMin*60 {
		return model.GateDecision{Reason: model.GateSkipTooLong}
	}
	if video.MaxSizeMB > 0 && meta.SizeEstimate > video.MaxSizeMB*1024*1024 {
		return model.GateDecision{Reason: model.GateSkipTooLarge}
	}
	return model.GateDecision{Reason: model.GateProceed}
}

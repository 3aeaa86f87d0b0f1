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

// This file defines the command fetching a video's platform metadata.
//
// Logic Flow:
//  1. Read the resolved reference from the context.
//  2. Fetch the view metadata: title, uploader, parts, durations. A failure
//     here fails the run, since nothing downstream can work without it.
//  3. Fetch the play URL for the selected part. Besides the stream URL the
//     response carries the file size, which the gate needs; the view API
//     does not report sizes. This half is best-effort: a run can still
//     digest subtitles when the stream endpoint misbehaves.
package commands

import (
	"github.com/baize-lab/bili-digest/internal/bilibili"
	"github.com/baize-lab/bili-digest/internal/core/cor"
	"github.com/baize-lab/bili-digest/internal/core/model"
)

// MetadataCommand fetches the platform metadata and the play URL for the
// resolved reference.
type MetadataCommand struct {
	cor.BaseCommand
	client *bilibili.Client
}

// NewMetadataCommand is the constructor for MetadataCommand.
//
// Inputs:
//   - name: A string name for this command, used in logs and telemetry.
//   - client: The platform client.
//
// Outputs:
//   - *MetadataCommand: A pointer to the newly instantiated command.
func NewMetadataCommand(name string, client *bilibili.Client) *MetadataCommand {
	return &MetadataCommand{BaseCommand: *cor.NewBaseCommand(name), client: client}
}

// Execute fetches metadata and play info, leaving both in the context.
func (c *MetadataCommand) Execute(context cor.Context) {
	ref := context.Get(c.GetInputParam()).(model.VideoReference)
	ctx := context.GetContext()

	meta, err := c.client.GetVideoInfo(ctx, ref)
	if err != nil {
		c.GetErrorCounter().Add(ctx, 1)
		context.AddError(c.GetName(), err)
		return
	}

	play, err := c.client.GetPlayURL(ctx, meta.Aid, meta.Cid)
	if err != nil {
		// Size stays zero and the download branch degrades later; the note
		// is recorded where the branch is skipped.
		context.Add(KeyPlayURL, "")
	} else {
		meta.SizeEstimate = play.Size
		context.Add(KeyPlayURL, play.URL)
	}

	c.GetSuccessCounter().Add(ctx, 1)
	context.Add(KeyMetadata, meta)
	context.Add(cor.CtxOut, meta)
}

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

// This file defines the signal-gathering step, the one place in the chain
// where work fans out across goroutines.
//
// Logic Flow:
//  1. A gated run produces no signals at all; the command returns at once.
//  2. Otherwise two branches run concurrently: the subtitle fetch, which
//     needs only the API, and the media branch, which needs the downloaded
//     file.
//  3. The media branch downloads once and then fans out again: speech
//     recognition over the extracted audio and visual analysis over sampled
//     frames (or the whole file, for the holistic method) run side by side.
//  4. Every branch failure is recorded as a step note instead of a run
//     error. Losing a signal degrades the result; it never discards the
//     signals the other branches gathered.
//
// Branch results land in separate slots and are merged after the wait, so
// the transcript order is deterministic: subtitles before speech
// recognition, regardless of which goroutine finished first.
package commands

import (
	"fmt"
	"sync"
	"time"

	"github.com/baize-lab/bili-digest/internal/analysis"
	"github.com/baize-lab/bili-digest/internal/bilibili"
	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/core/cor"
	"github.com/baize-lab/bili-digest/internal/core/model"
	"github.com/baize-lab/bili-digest/internal/media"
	"github.com/baize-lab/bili-digest/internal/tempfiles"
)

// Step note keys. One note per optional step that failed; a step that ran
// fine and simply found nothing leaves no note.
const (
	StepSubtitle = "subtitle"
	StepDownload = "download"
	StepASR      = "asr"
	StepVisual   = "visual"
)

// SignalsCommand gathers the transcript and visual signals for a run that
// passed the gate.
type SignalsCommand struct {
	cor.BaseCommand
	client      *bilibili.Client
	extractor   *media.Extractor
	dispatcher  *analysis.Dispatcher
	transcriber *analysis.Transcriber
	temps       *tempfiles.Manager
	video       config.Video
}

// signalSet collects branch results under one lock.
type signalSet struct {
	mu        sync.Mutex
	subtitles []model.TranscriptFragment
	speech    []model.TranscriptFragment
	frames    []model.FrameDescription
	holistic  string
	notes     map[string]string
}

func (s *signalSet) note(step, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[step] = reason
}

// NewSignalsCommand is the constructor for SignalsCommand.
//
// Inputs:
//   - name: A string name for this command, used in logs and telemetry.
//   - client: The platform client.
//   - extractor: The ffmpeg wrapper.
//   - dispatcher: The visual-analysis dispatcher.
//   - transcriber: The optional speech recognizer.
//   - temps: The temp artifact manager.
//   - video: Download ceilings and timeouts.
//
// Outputs:
//   - *SignalsCommand: A pointer to the newly instantiated command.
func NewSignalsCommand(
	name string,
	client *bilibili.Client,
	extractor *media.Extractor,
	dispatcher *analysis.Dispatcher,
	transcriber *analysis.Transcriber,
	temps *tempfiles.Manager,
	video config.Video,
) *SignalsCommand {
	return &SignalsCommand{
		BaseCommand: *cor.NewBaseCommand(name),
		client:      client,
		extractor:   extractor,
		dispatcher:  dispatcher,
		transcriber: transcriber,
		temps:       temps,
		video:       video,
	}
}

// Execute runs the subtitle and media branches concurrently and leaves the
// merged signals in the context.
func (c *SignalsCommand) Execute(context cor.Context) {
	gate := context.Get(c.GetInputParam()).(model.GateDecision)
	meta := context.Get(KeyMetadata).(model.VideoMetadata)

	set := &signalSet{notes: make(map[string]string)}

	if gate.Proceed() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.fetchSubtitles(context, meta, set)
		}()
		go func() {
			defer wg.Done()
			c.runMediaBranch(context, meta, set)
		}()
		wg.Wait()
	}

	c.GetSuccessCounter().Add(context.GetContext(), 1)

	transcript := append(append([]model.TranscriptFragment{}, set.subtitles...), set.speech...)
	context.Add(KeyTranscript, transcript)
	context.Add(KeyFrames, set.frames)
	context.Add(KeyHolistic, set.holistic)
	context.Add(KeyStepNotes, set.notes)
	context.Add(cor.CtxOut, meta)
}

func (c *SignalsCommand) fetchSubtitles(context cor.Context, meta model.VideoMetadata, set *signalSet) {
	frags, err := c.client.GetSubtitle(context.GetContext(), meta.Aid, meta.Cid)
	if err != nil {
		set.note(StepSubtitle, fmt.Sprintf("subtitle fetch failed: %v", err))
		return
	}
	// A video without a subtitle track is an absence, not a failure; it
	// leaves no note so the status derivation does not mark the run partial.
	if len(frags) == 0 {
		return
	}
	set.mu.Lock()
	set.subtitles = frags
	set.mu.Unlock()
}

// runMediaBranch downloads the video once and fans out into speech
// recognition and visual analysis.
func (c *SignalsCommand) runMediaBranch(context cor.Context, meta model.VideoMetadata, set *signalSet) {
	wantASR := c.transcriber.Enabled()
	wantVisual := c.dispatcher.Enabled()

	if wantVisual && !c.dispatcher.WithinDurationCeiling(meta.Duration) {
		set.note(StepVisual, "video exceeds the visual analysis duration ceiling")
		wantVisual = false
	}
	// Frame sampling and audio extraction both need ffmpeg; the holistic
	// method ships the file as-is and does not.
	if !c.extractor.Available() {
		if wantASR {
			set.note(StepASR, "ffmpeg not available")
			wantASR = false
		}
		if wantVisual && c.dispatcher.WantsFrames() {
			set.note(StepVisual, "ffmpeg not available")
			wantVisual = false
		}
	}
	if !wantASR && !wantVisual {
		return
	}

	playURL, _ := context.Get(KeyPlayURL).(string)
	if playURL == "" {
		set.note(StepDownload, "no play url available")
		return
	}

	dest := c.temps.NewVideoFile(context.RunID())
	timeout := time.Duration(c.video.DownloadTimeoutSec) * time.Second
	videoPath, err := c.client.Download(context.GetContext(), playURL, dest, c.video.MaxSizeMB*1024*1024, timeout)
	if err != nil {
		set.note(StepDownload, fmt.Sprintf("download failed: %v", err))
		return
	}
	if videoPath != dest {
		c.temps.Track(context.RunID(), videoPath)
	}

	var wg sync.WaitGroup
	if wantASR {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runSpeech(context, videoPath, set)
		}()
	}
	if wantVisual {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runVisual(context, meta, videoPath, set)
		}()
	}
	wg.Wait()
}

func (c *SignalsCommand) runSpeech(context cor.Context, videoPath string, set *signalSet) {
	audioPath := c.temps.NewAudioFile(context.RunID())
	if err := c.extractor.ExtractAudio(context.GetContext(), videoPath, audioPath); err != nil {
		set.note(StepASR, fmt.Sprintf("audio extraction failed: %v", err))
		return
	}
	frags, err := c.transcriber.Transcribe(context.GetContext(), audioPath)
	if err != nil {
		set.note(StepASR, fmt.Sprintf("speech recognition failed: %v", err))
		return
	}
	// Same as the subtitle branch: recognition that ran fine but heard
	// nothing is an absence, not a degradation.
	if len(frags) == 0 {
		return
	}
	set.mu.Lock()
	set.speech = frags
	set.mu.Unlock()
}

func (c *SignalsCommand) runVisual(context cor.Context, meta model.VideoMetadata, videoPath string, set *signalSet) {
	ctx := context.GetContext()

	if !c.dispatcher.WantsFrames() {
		text, err := c.dispatcher.DescribeVideo(ctx, videoPath)
		if err != nil {
			set.note(StepVisual, fmt.Sprintf("holistic analysis failed: %v", err))
			return
		}
		set.mu.Lock()
		set.holistic = text
		set.mu.Unlock()
		return
	}

	maxFrames, minInterval := c.dispatcher.FramePolicy()
	offsets := media.FrameSchedule(int(meta.Duration), maxFrames, minInterval)
	if len(offsets) == 0 {
		set.note(StepVisual, "no frames to sample")
		return
	}

	framesDir, err := c.temps.NewFramesDir(context.RunID())
	if err != nil {
		set.note(StepVisual, fmt.Sprintf("frames dir: %v", err))
		return
	}
	framePaths, err := c.extractor.ExtractFrames(ctx, videoPath, framesDir, offsets)
	if err != nil {
		set.note(StepVisual, fmt.Sprintf("frame extraction failed: %v", err))
		return
	}
	descs, err := c.dispatcher.DescribeFrames(ctx, framePaths, offsets)
	if err != nil {
		set.note(StepVisual, fmt.Sprintf("frame description failed: %v", err))
		return
	}
	set.mu.Lock()
	set.frames = descs
	set.mu.Unlock()
}

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

package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baize-lab/bili-digest/internal/analysis"
	"github.com/baize-lab/bili-digest/internal/bilibili"
	"github.com/baize-lab/bili-digest/internal/cache"
	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/core/model"
	"github.com/baize-lab/bili-digest/internal/media"
	"github.com/baize-lab/bili-digest/internal/retry"
	"github.com/baize-lab/bili-digest/internal/tempfiles"
	"github.com/baize-lab/bili-digest/internal/testutil"
)

// newTestService wires a full service against the fake platform. Visual
// analysis and ASR stay off unless the config callback turns them on; the
// extractor points at nonexistent binaries so no test shells out.
func newTestService(t *testing.T, p *testutil.Platform, adjust func(*config.Config)) *DigestService {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Application.DataDir = t.TempDir()
	cfg.Video.SessData = "session-token"
	cfg.Retry = config.Retry{MaxAttempts: 3, IntervalSec: 0.01}
	if adjust != nil {
		adjust(cfg)
	}

	client := bilibili.NewClient(cfg.Video, cfg.Retry)
	client.APIBase = p.URL()
	client.ShortBase = p.URL()

	dispatcher, err := analysis.Build(context.Background(), cfg.Analysis, nil)
	require.NoError(t, err)
	transcriber := analysis.NewTranscriber(nil, cfg.ASR.Enabled)

	temps, err := tempfiles.NewManager(cfg.Application.DataDir, 0, 0)
	require.NoError(t, err)
	store, err := cache.NewStore(cfg.Application.DataDir, cfg.Cache.Enabled)
	require.NoError(t, err)
	extractor := media.NewExtractor("ffmpeg-not-on-this-host", "ffprobe-not-on-this-host")

	return NewDigestService(cfg, client, extractor, dispatcher, transcriber, temps, store)
}

func TestDigestFullRunFromSubtitles(t *testing.T) {
	p := testutil.NewPlatform(t)
	svc := newTestService(t, p, nil)

	result, cached, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, model.StatusFull, result.Status)
	assert.Equal(t, "BV1xx411c7XZ", result.Reference.Canonical)
	assert.Equal(t, "测试视频", result.Metadata.Title)
	require.Len(t, result.Transcript, 1)
	assert.Equal(t, model.SourceSubtitle, result.Transcript[0].Source)
	assert.Equal(t, "大家好 今天介绍一个测试", result.Transcript[0].Text)
}

func TestDigestGatedByDuration(t *testing.T) {
	p := testutil.NewPlatform(t)
	svc := newTestService(t, p, func(cfg *config.Config) {
		cfg.Video.MaxDurationMin = 1 // The fake video runs 100 seconds.
	})

	result, cached, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, model.StatusGated, result.Status)
	assert.Equal(t, model.GateSkipTooLong, result.GateReason)
	assert.Equal(t, "测试视频", result.Metadata.Title, "a gated run still carries metadata")
	assert.Empty(t, result.Transcript)
	assert.False(t, result.HasSignal())

	assert.Zero(t, p.StreamCalls.Load(), "a gated run never downloads")

	// Gated results are cacheable: re-running the same request must not
	// touch the platform again.
	calls := p.ViewCalls.Load()
	_, cached, err = svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, calls, p.ViewCalls.Load())
}

func TestDigestCacheHit(t *testing.T) {
	p := testutil.NewPlatform(t)
	svc := newTestService(t, p, nil)

	first, cached, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)
	assert.False(t, cached)

	second, cached, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first.Transcript, second.Transcript)
	assert.Equal(t, int32(1), p.ViewCalls.Load())
}

func TestDigestCollapsesConcurrentRequests(t *testing.T) {
	p := testutil.NewPlatform(t)
	svc := newTestService(t, p, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Digest(context.Background(), "BV1xx411c7XZ")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.LessOrEqual(t, p.ViewCalls.Load(), int32(2),
		"concurrent identical requests must share at most a couple of runs")
}

func TestDigestSharedRunSurvivesLeaderCancellation(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.ViewGate = make(chan struct{})
	svc := newTestService(t, p, nil)

	ref, err := svc.Resolve(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)

	type outcome struct {
		result *model.AnalysisResult
		err    error
	}
	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leader := make(chan outcome, 1)
	go func() {
		res, _, err := svc.DigestReference(leaderCtx, ref)
		leader <- outcome{res, err}
	}()
	require.Eventually(t, func() bool { return p.ViewCalls.Load() > 0 },
		5*time.Second, time.Millisecond, "the leader must reach the platform")

	joiner := make(chan outcome, 1)
	go func() {
		res, _, err := svc.DigestReference(context.Background(), ref)
		joiner <- outcome{res, err}
	}()

	// The leader walks away mid-run; the shared run keeps going and both
	// callers see its eventual result.
	cancelLeader()
	close(p.ViewGate)

	l := <-leader
	require.NoError(t, l.err)
	assert.Equal(t, model.StatusFull, l.result.Status)

	j := <-joiner
	require.NoError(t, j.err)
	assert.Equal(t, model.StatusFull, j.result.Status)
	require.Len(t, j.result.Transcript, 1)
}

func TestDigestNoContentIsNotCached(t *testing.T) {
	p := testutil.NewPlatform(t)
	// No subtitle track, no visual method, no ASR: the run has nothing to
	// gather.
	p.SubtitleResponse = testutil.Envelope(0, "0",
		`{"need_login_subtitle": false, "subtitle": {"subtitles": []}}`)
	svc := newTestService(t, p, nil)

	_, _, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.ErrorIs(t, err, ErrNoContent)
	assert.Equal(t, retry.KindNoContent, retry.KindOf(err))

	// The failed run must not poison the cache: a later attempt runs again.
	_, _, err = svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.ErrorIs(t, err, ErrNoContent)
	assert.Equal(t, int32(2), p.ViewCalls.Load())
}

func TestDigestMetadataFailureFailsRun(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.ViewResponse = testutil.Envelope(-404, "啥都木有", "")
	svc := newTestService(t, p, nil)

	_, _, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.Error(t, err)
	assert.Equal(t, retry.KindVideoNotFound, retry.KindOf(err))
}

func TestDigestUnresolvableInput(t *testing.T) {
	p := testutil.NewPlatform(t)
	svc := newTestService(t, p, nil)

	_, _, err := svc.Digest(context.Background(), "not a video at all")
	var resErr *bilibili.ResolutionError
	require.True(t, errors.As(err, &resErr))
}

func TestDigestPartialWhenSubtitlesMissingButVisualConfigured(t *testing.T) {
	p := testutil.NewPlatform(t)
	svc := newTestService(t, p, func(cfg *config.Config) {
		// The client method wants frames, which needs ffmpeg; with the
		// extractor unavailable the visual step degrades to a note while
		// the subtitles still land.
		cfg.Analysis.VisualMethod = config.VisualClient
		cfg.Analysis.Backends[config.VisualClient] = config.VisualBackend{
			VisualMaxDurationMin: 10,
			MaxFrames:            4,
			MinIntervalSec:       5,
			BaseURL:              "https://api.example.invalid/v1",
			Model:                "test-model",
		}
	})

	result, _, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, result.Status)
	require.Len(t, result.Transcript, 1)
	assert.Contains(t, result.StepNotes, "visual")
	assert.Equal(t, "client", result.VisualMethod)
}

func TestDigestPartialWhenVisualBackendKeepsFailing(t *testing.T) {
	p := testutil.NewPlatform(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(backend.Close)

	svc := newTestService(t, p, func(cfg *config.Config) {
		// The holistic method needs no ffmpeg, so the run reaches the
		// backend; every attempt answers 500 until the budget runs out.
		cfg.Analysis.VisualMethod = config.VisualVideo
		cfg.Analysis.Backends[config.VisualVideo] = config.VisualBackend{
			VisualMaxDurationMin: 10,
			BaseURL:              backend.URL,
			Model:                "test-model",
			MaxAttempts:          2,
			IntervalSec:          0.01,
			RatePerSecond:        100,
			SummaryMaxChars:      200,
		}
	})

	result, _, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, result.Status)
	assert.Empty(t, result.HolisticDescription)
	assert.Contains(t, result.StepNotes, "visual")
	require.Len(t, result.Transcript, 1, "the subtitle signal survives the visual outage")
	assert.Equal(t, int32(1), p.StreamCalls.Load(), "the video downloads exactly once")
}

// cannedVideoDescriber stands in for a holistic video backend and always
// answers with a fixed description.
type cannedVideoDescriber struct{ text string }

func (d cannedVideoDescriber) DescribeVideo(ctx context.Context, videoPath string, prompt string) (string, error) {
	return d.text, nil
}

func TestDigestFullWhenNoSubtitleTrackButVisualSucceeds(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.SubtitleResponse = testutil.Envelope(0, "0",
		`{"need_login_subtitle": false, "subtitle": {"subtitles": []}}`)

	// Wired by hand instead of through newTestService so the holistic
	// backend can be a local stub that succeeds.
	cfg := config.NewConfig()
	cfg.Application.DataDir = t.TempDir()
	cfg.Video.SessData = "session-token"
	cfg.Retry = config.Retry{MaxAttempts: 3, IntervalSec: 0.01}
	cfg.Analysis.VisualMethod = config.VisualVideo
	cfg.Analysis.Backends[config.VisualVideo] = config.VisualBackend{
		VisualMaxDurationMin: 10,
		MaxAttempts:          1,
		SummaryMaxChars:      200,
	}

	client := bilibili.NewClient(cfg.Video, cfg.Retry)
	client.APIBase = p.URL()
	client.ShortBase = p.URL()
	dispatcher, err := analysis.NewDispatcher(cfg.Analysis, nil, cannedVideoDescriber{text: "一段测试视频的整体描述"})
	require.NoError(t, err)
	temps, err := tempfiles.NewManager(cfg.Application.DataDir, 0, 0)
	require.NoError(t, err)
	store, err := cache.NewStore(cfg.Application.DataDir, cfg.Cache.Enabled)
	require.NoError(t, err)
	extractor := media.NewExtractor("ffmpeg-not-on-this-host", "ffprobe-not-on-this-host")
	svc := NewDigestService(cfg, client, extractor, dispatcher,
		analysis.NewTranscriber(nil, false), temps, store)

	result, _, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFull, result.Status,
		"a missing subtitle track is an absence, not a degradation")
	assert.Empty(t, result.StepNotes)
	assert.Empty(t, result.Transcript)
	assert.Equal(t, "一段测试视频的整体描述", result.HolisticDescription)
}

func TestCachedAndInvalidate(t *testing.T) {
	p := testutil.NewPlatform(t)
	svc := newTestService(t, p, nil)

	_, ok := svc.Cached("BV1xx411c7XZ")
	assert.False(t, ok)

	_, _, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)

	result, ok := svc.Cached("BV1xx411c7XZ")
	require.True(t, ok)
	assert.Equal(t, model.StatusFull, result.Status)

	removed, err := svc.InvalidateVideo("BV1xx411c7XZ")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok = svc.Cached("BV1xx411c7XZ")
	assert.False(t, ok)
}

func TestInvalidateAll(t *testing.T) {
	p := testutil.NewPlatform(t)
	svc := newTestService(t, p, nil)

	_, _, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)

	removed, err := svc.InvalidateAll()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestDigestDisabledCacheRunsEveryTime(t *testing.T) {
	p := testutil.NewPlatform(t)
	svc := newTestService(t, p, func(cfg *config.Config) {
		cfg.Cache.Enabled = false
	})

	_, cached, err := svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)
	assert.False(t, cached)

	_, cached, err = svc.Digest(context.Background(), "BV1xx411c7XZ")
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, int32(2), p.ViewCalls.Load())
}

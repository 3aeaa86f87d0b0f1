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

package bilibili

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/core/model"
	"github.com/baize-lab/bili-digest/internal/retry"
	"github.com/baize-lab/bili-digest/internal/testutil"
)

func newTestClient(p *testutil.Platform, sessData string) *Client {
	c := NewClient(
		config.Video{RequestTimeoutSec: 5, SessData: sessData},
		config.Retry{MaxAttempts: 3, IntervalSec: 0.01},
	)
	c.APIBase = p.URL()
	c.ShortBase = p.URL()
	return c
}

func bvRef() model.VideoReference {
	return model.VideoReference{Canonical: "BV1xx411c7XZ", Kind: model.ReferenceBV, Page: 1}
}

func TestGetVideoInfo(t *testing.T) {
	p := testutil.NewPlatform(t)
	c := newTestClient(p, "")

	meta, err := c.GetVideoInfo(context.Background(), bvRef())
	require.NoError(t, err)
	assert.Equal(t, int64(170001), meta.Aid)
	assert.Equal(t, "BV1xx411c7XZ", meta.Bvid)
	assert.Equal(t, int64(3001), meta.Cid)
	assert.Equal(t, "测试视频", meta.Title)
	assert.Equal(t, float64(100), meta.Duration)
	assert.Equal(t, 1, meta.Page)
	assert.Equal(t, 1, meta.TotalPages)
	assert.False(t, meta.Restricted)
}

func TestGetVideoInfoFlagsRestrictedVideo(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.ViewResponse = testutil.Envelope(0, "0", `{
		"aid": 170001, "bvid": "BV1xx411c7XZ", "title": "测试视频",
		"duration": 100, "teenage_mode": 1,
		"owner": {"mid": 1, "name": "测试UP主"},
		"pages": [{"cid": 3001, "page": 1, "part": "", "duration": 100}]
	}`)
	c := newTestClient(p, "")

	meta, err := c.GetVideoInfo(context.Background(), bvRef())
	require.NoError(t, err)
	assert.True(t, meta.Restricted)
}

func TestGetVideoInfoFlagsAreaLimitedVideo(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.ViewResponse = testutil.Envelope(0, "0", `{
		"aid": 170001, "bvid": "BV1xx411c7XZ", "title": "测试视频",
		"duration": 100, "rights": {"area_limit": 1},
		"owner": {"mid": 1, "name": "测试UP主"},
		"pages": [{"cid": 3001, "page": 1, "part": "", "duration": 100}]
	}`)
	c := newTestClient(p, "")

	meta, err := c.GetVideoInfo(context.Background(), bvRef())
	require.NoError(t, err)
	assert.True(t, meta.Restricted)
}

func TestGetVideoInfoByAvid(t *testing.T) {
	p := testutil.NewPlatform(t)
	c := newTestClient(p, "")

	meta, err := c.GetVideoInfo(context.Background(), model.VideoReference{
		Canonical: "av170001", Kind: model.ReferenceAV, Page: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(170001), meta.Aid)
}

func TestGetVideoInfoClampsPage(t *testing.T) {
	p := testutil.NewPlatform(t)
	c := newTestClient(p, "")

	ref := bvRef()
	ref.Page = 7
	meta, err := c.GetVideoInfo(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Page, "out-of-range part should clamp to the last one")
}

func TestGetVideoInfoRetriesTransientFailures(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.ViewFailures = 2
	c := newTestClient(p, "")

	_, err := c.GetVideoInfo(context.Background(), bvRef())
	require.NoError(t, err)
	assert.Equal(t, int32(3), p.ViewCalls.Load())
}

func TestGetVideoInfoNotFoundCode(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.ViewResponse = testutil.Envelope(-404, "啥都木有", "")
	c := newTestClient(p, "")

	_, err := c.GetVideoInfo(context.Background(), bvRef())
	require.Error(t, err)
	assert.Equal(t, retry.KindVideoNotFound, retry.KindOf(err))
	assert.Equal(t, int32(1), p.ViewCalls.Load(), "terminal codes must not be retried")
}

func TestGetVideoInfoPermissionDenied(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.ViewResponse = testutil.Envelope(-403, "访问权限不足", "")
	c := newTestClient(p, "")

	_, err := c.GetVideoInfo(context.Background(), bvRef())
	require.Error(t, err)
	assert.Equal(t, retry.KindPermissionDenied, retry.KindOf(err))
}

func TestGetVideoInfoExhaustsBudget(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.FailView = 503
	c := newTestClient(p, "")

	_, err := c.GetVideoInfo(context.Background(), bvRef())
	require.Error(t, err)
	var exhausted *retry.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, int32(3), p.ViewCalls.Load())
}

func TestGetVideoInfoNoPages(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.ViewResponse = testutil.Envelope(0, "0",
		`{"aid":1,"bvid":"BV1xx411c7XZ","title":"t","duration":10,"owner":{"name":"n"},"pages":[]}`)
	c := newTestClient(p, "")

	_, err := c.GetVideoInfo(context.Background(), bvRef())
	require.Error(t, err)
	assert.Equal(t, retry.KindNoContent, retry.KindOf(err))
}

func TestGetPlayURL(t *testing.T) {
	p := testutil.NewPlatform(t)
	c := newTestClient(p, "")

	play, err := c.GetPlayURL(context.Background(), 170001, 3001)
	require.NoError(t, err)
	assert.Equal(t, p.URL()+"/stream", play.URL)
	assert.Equal(t, int64(1024), play.Size)
}

func TestGetPlayURLEmptyDurl(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.PlayResponse = testutil.Envelope(0, "0", `{"quality":64,"durl":[]}`)
	c := newTestClient(p, "")

	_, err := c.GetPlayURL(context.Background(), 170001, 3001)
	require.Error(t, err)
	assert.Equal(t, retry.KindNoContent, retry.KindOf(err))
}

func TestGetSubtitlePrefersChineseTrack(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.SubtitleResponse = testutil.Envelope(0, "0", `{
		"need_login_subtitle": false,
		"subtitle": {"subtitles": [
			{"lan": "en-US", "lan_doc": "English", "subtitle_url": "`+p.URL()+`/missing.json"},
			{"lan": "zh-CN", "lan_doc": "中文（自动生成）", "subtitle_url": "`+p.URL()+`/subtitle.json"}
		]}
	}`)
	c := newTestClient(p, "session-token")

	frags, err := c.GetSubtitle(context.Background(), 170001, 3001)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, model.SourceSubtitle, frags[0].Source)
	assert.Equal(t, "大家好 今天介绍一个测试", frags[0].Text)
}

func TestGetSubtitleWithoutCredential(t *testing.T) {
	p := testutil.NewPlatform(t)
	c := newTestClient(p, "")

	frags, err := c.GetSubtitle(context.Background(), 170001, 3001)
	require.NoError(t, err)
	assert.Empty(t, frags, "no credential means no subtitle lookup at all")
}

func TestGetSubtitleDegradesOnListingFailure(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.SubtitleResponse = testutil.Envelope(-400, "请求错误", "")
	c := newTestClient(p, "session-token")

	frags, err := c.GetSubtitle(context.Background(), 170001, 3001)
	require.NoError(t, err, "subtitle failures never surface as errors")
	assert.Empty(t, frags)
}

func TestGetSubtitleNoTracks(t *testing.T) {
	p := testutil.NewPlatform(t)
	p.SubtitleResponse = testutil.Envelope(0, "0",
		`{"need_login_subtitle": true, "subtitle": {"subtitles": []}}`)
	c := newTestClient(p, "session-token")

	frags, err := c.GetSubtitle(context.Background(), 170001, 3001)
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestNormalizeSubtitleURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example/s.json", normalizeSubtitleURL("//cdn.example/s.json"))
	assert.Equal(t, "http://cdn.example/s.json", normalizeSubtitleURL("http://cdn.example/s.json"))
	assert.Equal(t, "https://cdn.example/s.json", normalizeSubtitleURL("cdn.example/s.json"))
}

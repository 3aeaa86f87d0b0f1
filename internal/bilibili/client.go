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

// Package bilibili is the platform client: identifier resolution, metadata
// and play-url lookups, subtitle retrieval and the stream download. Every
// remote call goes through the shared retry executor with the transient and
// terminal failure classes of the platform's error-code vocabulary.
package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/core/model"
	"github.com/baize-lab/bili-digest/internal/retry"
)

const (
	defaultAPIBase   = "https://api.bilibili.com"
	defaultShortBase = "https://b23.tv"
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	refererHeader    = "https://www.bilibili.com/"
)

// Client talks to the platform's public API. The zero host fields default to
// the production endpoints; tests point them at an httptest server.
type Client struct {
	HTTP      *http.Client
	APIBase   string
	ShortBase string

	retryCfg retry.Config
	sessData string
}

// NewClient builds a Client from the video and retry sections of the
// configuration. The per-attempt timeout lives on the embedded http.Client;
// retries are layered on top by the executor.
func NewClient(video config.Video, rc config.Retry) *Client {
	timeout := time.Duration(video.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		APIBase:   defaultAPIBase,
		ShortBase: defaultShortBase,
		retryCfg:  retry.Config{MaxAttempts: rc.MaxAttempts, Interval: rc.Interval()},
		sessData:  video.SessData,
	}
}

// decorate applies the platform's required headers. The session cookie rides
// along only when configured; it is never logged.
func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", refererHeader)
	if c.sessData != "" {
		req.Header.Set("Cookie", "SESSDATA="+c.sessData)
	}
}

// apiEnvelope is the common wrapper of every platform API response.
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// getJSON performs one GET and decodes the platform envelope, translating
// HTTP and business-code failures into the retry taxonomy. The caller decides
// retrying by wrapping this in the executor.
func (c *Client) getJSON(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Terminal(retry.KindUnknown, err)
	}
	c.decorate(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, retry.Transient(retry.KindNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, retry.ClassifyStatus(resp.StatusCode)
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, retry.Transient(retry.KindNetwork, fmt.Errorf("decode response: %w", err))
	}
	if err := retry.ClassifyAPICode(env.Code, env.Message); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// viewData mirrors the fields of /x/web-interface/view this pipeline needs.
type viewData struct {
	Aid      int64  `json:"aid"`
	Bvid     string `json:"bvid"`
	Title    string `json:"title"`
	Desc     string `json:"desc"`
	Duration int64  `json:"duration"`
	Owner    struct {
		Name string `json:"name"`
	} `json:"owner"`
	TeenageMode int `json:"teenage_mode"`
	Rights      struct {
		AreaLimit int `json:"area_limit"`
	} `json:"rights"`
	Pages []struct {
		Cid      int64  `json:"cid"`
		Part     string `json:"part"`
		Duration int64  `json:"duration"`
	} `json:"pages"`
}

// GetVideoInfo fetches the metadata for the referenced video and selects the
// requested part. Out-of-range part numbers clamp to the nearest valid one,
// matching the platform web player's behavior.
func (c *Client) GetVideoInfo(ctx context.Context, ref model.VideoReference) (model.VideoMetadata, error) {
	var url string
	if ref.Kind == model.ReferenceAV {
		url = fmt.Sprintf("%s/x/web-interface/view?aid=%s", c.APIBase, ref.Canonical[2:])
	} else {
		url = fmt.Sprintf("%s/x/web-interface/view?bvid=%s", c.APIBase, ref.Canonical)
	}

	raw, err := retry.Do(ctx, c.retryCfg, "bilibili.view", func(ctx context.Context) (json.RawMessage, error) {
		return c.getJSON(ctx, url)
	})
	if err != nil {
		return model.VideoMetadata{}, err
	}

	var data viewData
	if err := json.Unmarshal(raw, &data); err != nil {
		return model.VideoMetadata{}, fmt.Errorf("unmarshal view data: %w", err)
	}
	if len(data.Pages) == 0 {
		return model.VideoMetadata{}, retry.Terminal(retry.KindNoContent, errors.New("video has no pages"))
	}

	pageIndex := ref.Page - 1
	if pageIndex < 0 {
		pageIndex = 0
	}
	if pageIndex >= len(data.Pages) {
		pageIndex = len(data.Pages) - 1
	}
	selected := data.Pages[pageIndex]

	var total int64
	for _, p := range data.Pages {
		total += p.Duration
	}

	duration := selected.Duration
	if duration == 0 {
		duration = data.Duration
	}

	return model.VideoMetadata{
		Aid:           data.Aid,
		Bvid:          data.Bvid,
		Cid:           selected.Cid,
		Title:         data.Title,
		Description:   data.Desc,
		Owner:         data.Owner.Name,
		Duration:      float64(duration),
		Page:          pageIndex + 1,
		PageTitle:     selected.Part,
		TotalPages:    len(data.Pages),
		TotalDuration: float64(total),
		Restricted:    data.TeenageMode != 0 || data.Rights.AreaLimit != 0,
	}, nil
}

// PlayInfo is the resolved stream location plus the platform's size estimate,
// which feeds the size gate before any bytes move.
type PlayInfo struct {
	URL  string
	Size int64
}

// GetPlayURL resolves the downloadable stream for one part. Quality is pinned
// to 64 (720p) in the legacy single-file format so a single durl entry comes
// back.
func (c *Client) GetPlayURL(ctx context.Context, aid, cid int64) (PlayInfo, error) {
	url := fmt.Sprintf("%s/x/player/playurl?avid=%d&cid=%d&qn=64&fnval=0&fourk=1", c.APIBase, aid, cid)

	raw, err := retry.Do(ctx, c.retryCfg, "bilibili.playurl", func(ctx context.Context) (json.RawMessage, error) {
		return c.getJSON(ctx, url)
	})
	if err != nil {
		return PlayInfo{}, err
	}

	var data struct {
		Durl []struct {
			URL  string `json:"url"`
			Size int64  `json:"size"`
		} `json:"durl"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return PlayInfo{}, fmt.Errorf("unmarshal playurl data: %w", err)
	}
	if len(data.Durl) == 0 || data.Durl[0].URL == "" {
		return PlayInfo{}, retry.Terminal(retry.KindNoContent, errors.New("no downloadable stream"))
	}
	return PlayInfo{URL: data.Durl[0].URL, Size: data.Durl[0].Size}, nil
}

// drainClose discards up to a small tail of the body before closing so the
// connection can be reused.
func drainClose(body io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, body, 1<<16)
	_ = body.Close()
}

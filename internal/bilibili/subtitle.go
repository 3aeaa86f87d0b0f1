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

// Package bilibili is the platform client. This file fetches existing
// platform subtitles, a strictly best-effort signal: anything short of a
// transport-level transient failure turns into zero fragments, never a run
// failure. The subtitle listing requires a logged-in session; without a
// configured credential the fetch short-circuits immediately.
package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/baize-lab/bili-digest/internal/core/model"
	"github.com/baize-lab/bili-digest/internal/retry"
)

type subtitleListing struct {
	NeedLogin bool `json:"need_login_subtitle"`
	Subtitle  struct {
		Subtitles []struct {
			LanDoc      string `json:"lan_doc"`
			SubtitleURL string `json:"subtitle_url"`
		} `json:"subtitles"`
	} `json:"subtitle"`
}

// GetSubtitle returns the video's existing subtitle track as transcript
// fragments. Chinese tracks are preferred; otherwise the first listed track
// is used. A missing track, an expired credential, or a terminal API error
// all yield zero fragments with a logged warning.
func (c *Client) GetSubtitle(ctx context.Context, aid, cid int64) ([]model.TranscriptFragment, error) {
	if c.sessData == "" {
		return nil, nil
	}

	url := fmt.Sprintf("%s/x/player/wbi/v2?aid=%d&cid=%d", c.APIBase, aid, cid)
	raw, err := retry.Do(ctx, c.retryCfg, "bilibili.subtitle", func(ctx context.Context) (json.RawMessage, error) {
		return c.getJSON(ctx, url)
	})
	if err != nil {
		// Subtitles never fail a run. Degrade to none regardless of why.
		slog.Warn("subtitle listing unavailable", "aid", aid, "cid", cid, "error", err)
		return nil, nil
	}

	var listing subtitleListing
	if err := json.Unmarshal(raw, &listing); err != nil {
		slog.Warn("subtitle listing malformed", "aid", aid, "error", err)
		return nil, nil
	}

	tracks := listing.Subtitle.Subtitles
	if len(tracks) == 0 {
		if listing.NeedLogin {
			slog.Warn("subtitle listing requires a valid session credential")
		}
		return nil, nil
	}

	selected := tracks[0]
	for _, t := range tracks {
		if strings.Contains(t.LanDoc, "中文") {
			selected = t
			break
		}
	}

	text, err := c.downloadSubtitleBody(ctx, normalizeSubtitleURL(selected.SubtitleURL))
	if err != nil || text == "" {
		if err != nil {
			slog.Warn("subtitle body download failed", "aid", aid, "error", err)
		}
		return nil, nil
	}

	return []model.TranscriptFragment{{Source: model.SourceSubtitle, Text: text}}, nil
}

// normalizeSubtitleURL completes the scheme-relative URLs the listing API
// hands back.
func normalizeSubtitleURL(u string) string {
	switch {
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	case strings.HasPrefix(u, "http"):
		return u
	default:
		return "https://" + u
	}
}

// downloadSubtitleBody fetches the cue file and joins the cue texts into one
// transcript string.
func (c *Client) downloadSubtitleBody(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	c.decorate(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("subtitle body status %d", resp.StatusCode)
	}

	var body struct {
		Body []struct {
			Content string `json:"content"`
		} `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(body.Body))
	for _, cue := range body.Body {
		if t := strings.TrimSpace(cue.Content); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

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

// Package bilibili is the platform client. This file normalizes raw user
// input into a canonical VideoReference.
//
// Four syntactic forms are recognized, checked in order of specificity:
//  1. A full watch URL (bilibili.com/video/BV… or …/avNNN), including an
//     optional ?p=N part selector.
//  2. A b23.tv short-link, which costs one redirect-resolution network hop.
//  3. A bare BV id (case-insensitive prefix, 10 alphanumeric characters).
//  4. A bare av id.
//
// Resolution is idempotent: the same input always yields the same canonical
// id. Input matching none of the forms, or a short-link that does not
// redirect to a recognizable id, fails with a *ResolutionError and aborts the
// pipeline, since no sensible cache or lookup key exists.
package bilibili

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/baize-lab/bili-digest/internal/core/model"
	"github.com/baize-lab/bili-digest/internal/retry"
)

// ResolutionError reports input that could not be turned into a canonical
// video id. It is fatal to the run and never retried at the pipeline level.
type ResolutionError struct {
	Input string
	Err   error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot resolve %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("cannot resolve %q: unrecognized video reference", e.Input)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

var (
	watchURLPattern  = regexp.MustCompile(`https?://(?:www\.|m\.)?bilibili\.com/video/(BV[0-9A-Za-z]{10}|av\d+)\S*`)
	shortLinkPattern = regexp.MustCompile(`https?://b23\.tv/([0-9A-Za-z]+)`)
	bvPattern        = regexp.MustCompile(`(?i)\bBV([0-9A-Za-z]{10})`)
	avPattern        = regexp.MustCompile(`(?i)\bav(\d+)`)
)

// pageFromURL extracts the 1-based part selector from a watch URL, defaulting
// to the first part.
func pageFromURL(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 1
	}
	if p := u.Query().Get("p"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n >= 1 {
			return n
		}
	}
	return 1
}

// canonicalize normalizes the prefix casing: "BV" upper, "av" lower; the
// id body keeps its original case because BV ids are case-sensitive.
func canonicalize(id string) (string, model.ReferenceKind) {
	if strings.EqualFold(id[:2], "bv") {
		return "BV" + id[2:], model.ReferenceBV
	}
	return "av" + id[2:], model.ReferenceAV
}

// Resolve turns raw input into its canonical VideoReference. Short-links are
// expanded through one redirect hop using the client's retry policy.
func (c *Client) Resolve(ctx context.Context, raw string) (model.VideoReference, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return model.VideoReference{}, &ResolutionError{Input: raw}
	}

	if m := watchURLPattern.FindStringSubmatch(input); m != nil {
		canonical, kind := canonicalize(m[1])
		return model.VideoReference{
			Canonical: canonical,
			Kind:      kind,
			Page:      pageFromURL(m[0]),
			Raw:       raw,
		}, nil
	}

	if m := shortLinkPattern.FindStringSubmatch(input); m != nil {
		ref, err := c.resolveShortLink(ctx, m[1])
		if err != nil {
			return model.VideoReference{}, &ResolutionError{Input: raw, Err: err}
		}
		ref.Raw = raw
		return ref, nil
	}

	if m := bvPattern.FindStringSubmatch(input); m != nil {
		return model.VideoReference{
			Canonical: "BV" + m[1],
			Kind:      model.ReferenceBV,
			Page:      1,
			Raw:       raw,
		}, nil
	}

	if m := avPattern.FindStringSubmatch(input); m != nil {
		return model.VideoReference{
			Canonical: "av" + m[1],
			Kind:      model.ReferenceAV,
			Page:      1,
			Raw:       raw,
		}, nil
	}

	return model.VideoReference{}, &ResolutionError{Input: raw}
}

// resolveShortLink asks the short-link host for its redirect target without
// following it, then extracts the id and part number from the Location
// header.
func (c *Client) resolveShortLink(ctx context.Context, code string) (model.VideoReference, error) {
	shortURL := fmt.Sprintf("%s/%s", c.ShortBase, code)

	noFollow := &http.Client{
		Timeout: c.HTTP.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	location, err := retry.Do(ctx, c.retryCfg, "bilibili.shortlink", func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, nil)
		if err != nil {
			return "", retry.Terminal(retry.KindUnknown, err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := noFollow.Do(req)
		if err != nil {
			return "", retry.Transient(retry.KindNetwork, err)
		}
		defer drainClose(resp.Body)

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			loc := resp.Header.Get("Location")
			if loc == "" {
				return "", retry.Terminal(retry.KindVideoNotFound, fmt.Errorf("redirect without location"))
			}
			return loc, nil
		default:
			if err := retry.ClassifyStatus(resp.StatusCode); err != nil {
				return "", err
			}
			return "", retry.Terminal(retry.KindVideoNotFound, fmt.Errorf("short-link did not redirect: status %d", resp.StatusCode))
		}
	})
	if err != nil {
		return model.VideoReference{}, err
	}

	page := pageFromURL(location)
	if m := bvPattern.FindStringSubmatch(location); m != nil {
		return model.VideoReference{Canonical: "BV" + m[1], Kind: model.ReferenceBV, Page: page}, nil
	}
	if m := avPattern.FindStringSubmatch(location); m != nil {
		return model.VideoReference{Canonical: "av" + m[1], Kind: model.ReferenceAV, Page: page}, nil
	}
	return model.VideoReference{}, fmt.Errorf("no video id in redirect target %q", location)
}

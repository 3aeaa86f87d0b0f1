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

// Package testutil provides a fake Bilibili platform for tests: an
// httptest server answering the view, playurl, subtitle and stream
// endpoints with configurable payloads, plus canned response builders.
// Tests mutate the exported fields to simulate platform failure modes,
// then point a client at Platform.URL().
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// Envelope builds the platform's standard response envelope around a data
// payload. Code zero is success.
func Envelope(code int, message, data string) string {
	if data == "" {
		data = "null"
	}
	return fmt.Sprintf(`{"code":%d,"message":%q,"ttl":1,"data":%s}`, code, message, data)
}

// ViewData builds a single-part view payload.
func ViewData(aid int64, bvid string, cid int64, title string, durationSec int) string {
	return fmt.Sprintf(`{
		"aid": %d, "bvid": %q, "cid": %d,
		"title": %q, "desc": "测试描述", "duration": %d,
		"owner": {"mid": 1, "name": "测试UP主"},
		"pages": [{"cid": %d, "page": 1, "part": "", "duration": %d}]
	}`, aid, bvid, cid, title, durationSec, cid, durationSec)
}

// PlayData builds a playurl payload pointing at the platform's own stream
// endpoint.
func PlayData(streamURL string, size int64) string {
	return fmt.Sprintf(`{"quality":64,"durl":[{"order":1,"url":%q,"size":%d,"length":1000}]}`, streamURL, size)
}

// SubtitleListData builds a wbi/v2 payload with one Chinese subtitle track
// served from subtitleURL.
func SubtitleListData(subtitleURL string) string {
	return fmt.Sprintf(`{
		"need_login_subtitle": false,
		"subtitle": {"subtitles": [
			{"lan": "zh-CN", "lan_doc": "中文（中国）", "subtitle_url": %q}
		]}
	}`, subtitleURL)
}

// SubtitleBody builds a subtitle cue file.
func SubtitleBody(lines ...string) string {
	body := `{"body":[`
	for i, l := range lines {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"from":%d,"to":%d,"content":%q}`, i*2, i*2+2, l)
	}
	return body + `]}`
}

// Platform is a fake Bilibili API plus CDN. Response fields are plain
// strings handed back verbatim; set a Fail* status to short-circuit an
// endpoint with that HTTP status instead.
type Platform struct {
	server *httptest.Server

	ViewResponse     string
	PlayResponse     string
	SubtitleResponse string
	SubtitleFile     string
	StreamBody       []byte

	FailView       int // HTTP status; 0 means serve ViewResponse.
	FailPlay       int
	FailStream     int
	ViewFailures   int32 // Serve this many 503s before succeeding.
	StreamFailures int32

	// RedirectTarget is the Location header value served for any b23-style
	// short-link path. Empty means the short-link answers 404.
	RedirectTarget string

	// ViewGate, when non-nil, holds every view response until the channel
	// is closed. Set it before the first request.
	ViewGate chan struct{}

	ViewCalls   atomic.Int32
	StreamCalls atomic.Int32
}

// NewPlatform starts the fake platform with sane defaults: one 100-second
// single-part video with a subtitle track and a tiny stream body.
func NewPlatform(t *testing.T) *Platform {
	t.Helper()
	p := &Platform{}

	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/view", func(w http.ResponseWriter, r *http.Request) {
		p.ViewCalls.Add(1)
		if g := p.ViewGate; g != nil {
			<-g
		}
		if n := atomic.LoadInt32(&p.ViewFailures); n > 0 {
			atomic.AddInt32(&p.ViewFailures, -1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if p.FailView != 0 {
			w.WriteHeader(p.FailView)
			return
		}
		fmt.Fprint(w, p.ViewResponse)
	})
	mux.HandleFunc("/x/player/playurl", func(w http.ResponseWriter, r *http.Request) {
		if p.FailPlay != 0 {
			w.WriteHeader(p.FailPlay)
			return
		}
		fmt.Fprint(w, p.PlayResponse)
	})
	mux.HandleFunc("/x/player/wbi/v2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, p.SubtitleResponse)
	})
	mux.HandleFunc("/subtitle.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, p.SubtitleFile)
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		p.StreamCalls.Add(1)
		if n := atomic.LoadInt32(&p.StreamFailures); n > 0 {
			atomic.AddInt32(&p.StreamFailures, -1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if p.FailStream != 0 {
			w.WriteHeader(p.FailStream)
			return
		}
		_, _ = w.Write(p.StreamBody)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if p.RedirectTarget == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Location", p.RedirectTarget)
		w.WriteHeader(http.StatusFound)
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	p.ViewResponse = Envelope(0, "0", ViewData(170001, "BV1xx411c7XZ", 3001, "测试视频", 100))
	p.PlayResponse = Envelope(0, "0", PlayData(p.server.URL+"/stream", 1024))
	p.SubtitleResponse = Envelope(0, "0", SubtitleListData(p.server.URL+"/subtitle.json"))
	p.SubtitleFile = SubtitleBody("大家好", "今天介绍一个测试")
	p.StreamBody = []byte("fake video bytes")
	return p
}

// URL returns the base URL of the fake platform.
func (p *Platform) URL() string { return p.server.URL }

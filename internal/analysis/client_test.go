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

package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/retry"
)

// jpegHeader is enough of a JPEG for content sniffing.
var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00}

func writeFrame(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "frame_001.jpg")
	require.NoError(t, os.WriteFile(p, jpegHeader, 0o644))
	return p
}

func completionsReply(text string) string {
	return `{"choices":[{"message":{"role":"assistant","content":"` + text + `"}}]}`
}

func TestOpenAIFramesSendsInlineImage(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(completionsReply("画面里是一张测试图")))
	}))
	defer srv.Close()

	c := NewOpenAIFrames(config.VisualBackend{
		BaseURL: srv.URL + "/v1",
		APIKey:  "test-key",
		Model:   "test-vision",
	})
	text, err := c.DescribeFrame(context.Background(), writeFrame(t), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "画面里是一张测试图", text)

	assert.Equal(t, "test-vision", gotBody["model"])
	raw, _ := json.Marshal(gotBody)
	assert.Contains(t, string(raw), "data:image/jpeg;base64,")
}

func TestOpenAIFramesMergesExtraParams(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(completionsReply("好")))
	}))
	defer srv.Close()

	c := NewOpenAIFrames(config.VisualBackend{
		BaseURL: srv.URL,
		Model:   "m",
		Extra:   map[string]interface{}{"temperature": 0.2, "top_p": 0.9},
	})
	_, err := c.DescribeFrame(context.Background(), writeFrame(t), "p")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, gotBody["temperature"], 0.001)
	assert.InDelta(t, 0.9, gotBody["top_p"], 0.001)
}

func TestOpenAIFramesClassifiesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOpenAIFrames(config.VisualBackend{BaseURL: srv.URL, Model: "m"})
	_, err := c.DescribeFrame(context.Background(), writeFrame(t), "p")
	require.Error(t, err)
	var transient *retry.TransientError
	assert.ErrorAs(t, err, &transient)
}

func TestOpenAIFramesClassifiesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewOpenAIFrames(config.VisualBackend{BaseURL: srv.URL, Model: "m"})
	_, err := c.DescribeFrame(context.Background(), writeFrame(t), "p")
	require.Error(t, err)
	var terminal *retry.TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, retry.KindPermissionDenied, terminal.Kind)
}

func TestDispatcherRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(completionsReply("第二次成功")))
	}))
	defer srv.Close()

	d, err := NewDispatcher(clientAnalysis(config.VisualBackend{
		BaseURL:     srv.URL,
		Model:       "m",
		MaxAttempts: 3,
	}), NewOpenAIFrames(config.VisualBackend{BaseURL: srv.URL, Model: "m"}), nil)
	require.NoError(t, err)

	out, err := d.DescribeFrames(context.Background(), []string{writeFrame(t)}, []float64{3})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "第二次成功", out[0].Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestVideoHolisticSendsVideoURLWithFPS(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		_, _ = w.Write([]byte(completionsReply("这是一个测试视频")))
	}))
	defer srv.Close()

	videoPath := filepath.Join(t.TempDir(), "bili_video_test.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("not really mp4"), 0o644))

	v := NewVideoHolistic(config.VisualBackend{
		BaseURL: srv.URL,
		Model:   "vid",
		FPS:     1,
	})
	text, err := v.DescribeVideo(context.Background(), videoPath, "总结")
	require.NoError(t, err)
	assert.Equal(t, "这是一个测试视频", text)
	assert.Contains(t, gotBody, `"video_url"`)
	assert.Contains(t, gotBody, `"fps":1`)
}

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

// This file implements the "video" visual method: the downloaded file is
// shipped whole to a video-understanding chat API in one request, base64
// inlined, with a provider-side sampling rate (fps) instead of local frame
// extraction. The wire shape follows the Doubao/Ark convention of a
// "video_url" content part; providers that share the OpenAI envelope accept
// it unchanged.
package analysis

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/h2non/filetype"

	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/retry"
)

// VideoHolistic sends the whole video for provider-side analysis. It reuses
// the OpenAI-compatible transport from the frame client.
type VideoHolistic struct {
	client *OpenAIFrames
	fps    float64
}

// NewVideoHolistic builds the video-understanding backend.
func NewVideoHolistic(b config.VisualBackend) *VideoHolistic {
	return &VideoHolistic{client: NewOpenAIFrames(b), fps: b.FPS}
}

// DescribeVideo inlines the video as a base64 data URL and requests one
// holistic description.
func (v *VideoHolistic) DescribeVideo(ctx context.Context, videoPath string, prompt string) (string, error) {
	data, err := os.ReadFile(videoPath)
	if err != nil {
		return "", retry.Terminal(retry.KindUnknown, fmt.Errorf("read video: %w", err))
	}

	videoURL := map[string]interface{}{
		"url": "data:" + sniffVideoMIME(data) + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
	if v.fps > 0 {
		videoURL["fps"] = v.fps
	}
	content := []map[string]interface{}{
		{"type": "text", "text": prompt},
		{"type": "video_url", "video_url": videoURL},
	}
	return v.client.complete(ctx, content)
}

func sniffVideoMIME(data []byte) string {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	return "video/mp4"
}

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
	"fmt"
	"os"
	"strings"

	"github.com/h2non/filetype"

	"github.com/baize-lab/bili-digest/internal/retry"
)

// VisionModel is the capability an embedding application provides for the
// "host" visual method. The pipeline never constructs one; it only calls it.
type VisionModel interface {
	DescribeImage(ctx context.Context, image []byte, mimeType string, prompt string) (string, error)
}

// HostFrames adapts a host-provided VisionModel to the dispatcher's
// FrameDescriber. Errors from the host model are treated as transient since
// the pipeline has no insight into their cause.
type HostFrames struct {
	model VisionModel
}

// NewHostFrames wraps the host-provided vision model.
func NewHostFrames(model VisionModel) *HostFrames {
	return &HostFrames{model: model}
}

// DescribeFrame loads the image, sniffs its MIME type and forwards it to the
// host model.
func (h *HostFrames) DescribeFrame(ctx context.Context, imagePath string, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", retry.Terminal(retry.KindUnknown, fmt.Errorf("read frame: %w", err))
	}
	text, err := h.model.DescribeImage(ctx, data, sniffImageMIME(data), prompt)
	if err != nil {
		return "", retry.Transient(retry.KindNetwork, err)
	}
	return text, nil
}

// sniffImageMIME detects the image MIME type from its content, falling back
// to JPEG, which is what the frame extractor writes.
func sniffImageMIME(data []byte) string {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown && strings.HasPrefix(kind.MIME.Value, "image/") {
		return kind.MIME.Value
	}
	return "image/jpeg"
}

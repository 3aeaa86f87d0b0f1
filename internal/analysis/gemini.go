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

// This file implements the "client" visual method against the Gemini API
// through the official genai SDK, selected with client_type = "gemini".
// The frame is inlined as bytes rather than uploaded through the File API;
// sampled frames are small enough that inline data stays well under the
// request size limit.
package analysis

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/retry"
)

// GeminiFrames is the Gemini-backed frame describer. It holds its own rate
// limiter, sized to the configured requests-per-second quota.
type GeminiFrames struct {
	client  *genai.Client
	limiter *rate.Limiter
	model   string
}

// NewGeminiFrames builds the Gemini frame backend.
//
// Inputs:
//   - ctx: Context used for SDK client construction.
//   - b: The backend settings. APIKey and Model are required.
//
// Outputs:
//   - *GeminiFrames: The configured backend.
//   - error: When the SDK client could not be constructed.
func NewGeminiFrames(ctx context.Context, b config.VisualBackend) (*GeminiFrames, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  b.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	rps := b.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	return &GeminiFrames{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		model:   b.Model,
	}, nil
}

// DescribeFrame sends one frame with the prompt and returns the model text.
func (g *GeminiFrames) DescribeFrame(ctx context.Context, imagePath string, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", retry.Terminal(retry.KindUnknown, fmt.Errorf("read frame: %w", err))
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", retry.Terminal(retry.KindUnknown, err)
	}

	content := genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(data, sniffImageMIME(data)),
	}, genai.RoleUser)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{content}, nil)
	if err != nil {
		// The SDK retries its own well-known transient cases; anything that
		// still escapes is worth one more pass through our executor.
		return "", retry.Transient(retry.KindNetwork, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", retry.Terminal(retry.KindNoContent, fmt.Errorf("model returned no text"))
	}
	return text, nil
}

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

// This file implements the "client" visual method over an OpenAI-compatible
// chat completions endpoint.
//
// Logic Flow:
//  1. The sampled frame is read and inlined as a base64 data URL; no
//     provider-side file upload is involved.
//  2. A token-bucket rate limiter is consulted before every call so bursts
//     of frames never trip the provider's request quota. Unlike a plain
//     Allow() check, Wait() blocks until a slot opens or the context ends.
//  3. Provider HTTP status codes map onto the pipeline's transient and
//     terminal error kinds, so the dispatcher's retry executor only retries
//     what can actually recover (5xx, 429).
//  4. Extra provider parameters from the configuration are merged into the
//     request body untouched. This is what lets one code path serve the
//     many OpenAI-compatible vendors that each bolt on their own knobs.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/retry"
)

const defaultClientTimeout = 60 * time.Second

// OpenAIFrames talks to an OpenAI-compatible chat completions API.
type OpenAIFrames struct {
	http    *http.Client
	limiter *rate.Limiter
	baseURL string
	apiKey  string
	model   string
	extra   map[string]interface{}
}

// NewOpenAIFrames builds the client-variant frame backend.
//
// Inputs:
//   - b: The backend settings. BaseURL, APIKey and Model are required; the
//     caller validates them before construction.
//
// Outputs:
//   - *OpenAIFrames: The configured backend.
func NewOpenAIFrames(b config.VisualBackend) *OpenAIFrames {
	timeout := defaultClientTimeout
	if b.TimeoutSec > 0 {
		timeout = time.Duration(b.TimeoutSec) * time.Second
	}
	rps := b.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	return &OpenAIFrames{
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		baseURL: strings.TrimSuffix(b.BaseURL, "/"),
		apiKey:  b.APIKey,
		model:   b.Model,
		extra:   b.Extra,
	}
}

// DescribeFrame sends one frame through the chat completions endpoint.
func (c *OpenAIFrames) DescribeFrame(ctx context.Context, imagePath string, prompt string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", retry.Terminal(retry.KindUnknown, fmt.Errorf("read frame: %w", err))
	}
	content := []map[string]interface{}{
		{"type": "text", "text": prompt},
		{"type": "image_url", "image_url": map[string]string{
			"url": "data:" + sniffImageMIME(data) + ";base64," + base64.StdEncoding.EncodeToString(data),
		}},
	}
	return c.complete(ctx, content)
}

func (c *OpenAIFrames) complete(ctx context.Context, content interface{}) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", retry.Terminal(retry.KindUnknown, err)
	}

	body := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{
			{"role": "user", "content": content},
		},
	}
	for k, v := range c.extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", retry.Terminal(retry.KindUnknown, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", retry.Terminal(retry.KindUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", retry.Transient(retry.KindNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", retry.Transient(retry.KindNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		if statusErr := retry.ClassifyStatus(resp.StatusCode); statusErr != nil {
			return "", statusErr
		}
		return "", retry.Terminal(retry.KindUnknown, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", retry.Terminal(retry.KindUnknown, fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", retry.Terminal(retry.KindNoContent, fmt.Errorf("response carried no choices"))
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

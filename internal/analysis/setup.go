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

	"github.com/baize-lab/bili-digest/internal/config"
)

// Build constructs the dispatcher for the configured visual method.
//
// Inputs:
//   - ctx: Context used for SDK client construction.
//   - cfg: The analysis configuration section.
//   - host: The vision model supplied by an embedding application, required
//     only when the method is "host".
//
// Outputs:
//   - *Dispatcher: The ready dispatcher.
//   - error: When the method's settings are incomplete.
func Build(ctx context.Context, cfg config.Analysis, host VisionModel) (*Dispatcher, error) {
	b := cfg.Backend()
	switch cfg.VisualMethod {
	case config.VisualNone, "":
		return NewDispatcher(config.Analysis{VisualMethod: config.VisualNone}, nil, nil)
	case config.VisualHost:
		if host == nil {
			return nil, fmt.Errorf("visual method %q requires a host vision model", cfg.VisualMethod)
		}
		return NewDispatcher(cfg, NewHostFrames(host), nil)
	case config.VisualClient:
		if b.BaseURL == "" && b.ClientType != "gemini" {
			return nil, fmt.Errorf("visual method %q requires base_url", cfg.VisualMethod)
		}
		if b.Model == "" {
			return nil, fmt.Errorf("visual method %q requires model", cfg.VisualMethod)
		}
		if b.ClientType == "gemini" {
			frames, err := NewGeminiFrames(ctx, b)
			if err != nil {
				return nil, err
			}
			return NewDispatcher(cfg, frames, nil)
		}
		return NewDispatcher(cfg, NewOpenAIFrames(b), nil)
	case config.VisualVideo:
		if b.BaseURL == "" || b.Model == "" {
			return nil, fmt.Errorf("visual method %q requires base_url and model", cfg.VisualMethod)
		}
		return NewDispatcher(cfg, nil, NewVideoHolistic(b))
	default:
		return nil, fmt.Errorf("unknown visual method %q", cfg.VisualMethod)
	}
}

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

// This file builds the shared application state: the loaded configuration
// and the fully wired digest service. Both the server and the one-shot
// commands go through the same wiring, so their behavior only differs in
// how results are delivered.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/baize-lab/bili-digest/internal/analysis"
	"github.com/baize-lab/bili-digest/internal/bilibili"
	"github.com/baize-lab/bili-digest/internal/cache"
	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/core/services"
	"github.com/baize-lab/bili-digest/internal/media"
	"github.com/baize-lab/bili-digest/internal/tempfiles"
)

// appState holds everything a command needs after wiring.
type appState struct {
	cfg     *config.Config
	digests *services.DigestService
	temps   *tempfiles.Manager
}

// loadConfig reads the hierarchical TOML configuration.
func loadConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if err := config.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// initState wires the pipeline from the configuration. The host visual
// method and host speech recognition need an embedding application and are
// unavailable from the standalone binary.
func initState(ctx context.Context, cfg *config.Config) (*appState, error) {
	if cfg.Analysis.VisualMethod == config.VisualHost {
		return nil, fmt.Errorf("visual method %q requires embedding the pipeline in a host application", config.VisualHost)
	}

	dispatcher, err := analysis.Build(ctx, cfg.Analysis, nil)
	if err != nil {
		return nil, err
	}
	transcriber := analysis.NewTranscriber(nil, cfg.ASR.Enabled)

	temps, err := tempfiles.NewManager(
		cfg.Application.DataDir,
		time.Duration(cfg.Temp.MaxAgeMin*float64(time.Minute)),
		time.Duration(cfg.Temp.SweepIntervalMin*float64(time.Minute)),
	)
	if err != nil {
		return nil, fmt.Errorf("temp manager: %w", err)
	}

	store, err := cache.NewStore(cfg.Application.DataDir, cfg.Cache.Enabled)
	if err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}

	client := bilibili.NewClient(cfg.Video, cfg.Retry)
	extractor := media.NewExtractor(cfg.FFmpegPath, cfg.FFprobePath)

	digests := services.NewDigestService(cfg, client, extractor, dispatcher, transcriber, temps, store)
	return &appState{cfg: cfg, digests: digests, temps: temps}, nil
}

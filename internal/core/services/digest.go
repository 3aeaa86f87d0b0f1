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

// Package services hosts the orchestration layer between the transport
// surfaces (HTTP API, CLI) and the pipeline chain.
//
// Logic Flow:
// The `DigestService` owns one configured chain and the result cache. A
// digest request goes through:
//  1. Resolution of the raw identifier, outside the chain, because the
//     cache key needs the canonical id before anything else may run.
//  2. A cache lookup under identity plus configuration fingerprint. A hit
//     skips the pipeline entirely.
//  3. On a miss, one single-flighted pipeline run: metadata, gate, signal
//     gathering, assembly. Concurrent requests for the same key share this
//     run, and a caller abandoning interest does not interrupt it.
//  4. A completed result is cached; a run that gathered no usable content
//     at all is an error and is never cached, so a later attempt may
//     succeed.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/baize-lab/bili-digest/internal/analysis"
	"github.com/baize-lab/bili-digest/internal/bilibili"
	"github.com/baize-lab/bili-digest/internal/cache"
	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/core/commands"
	"github.com/baize-lab/bili-digest/internal/core/cor"
	"github.com/baize-lab/bili-digest/internal/core/model"
	"github.com/baize-lab/bili-digest/internal/media"
	"github.com/baize-lab/bili-digest/internal/retry"
	"github.com/baize-lab/bili-digest/internal/tempfiles"
)

// ErrNoContent marks a run that finished without gathering any usable
// signal. It is terminal for the request but the result is not cached.
var ErrNoContent = errors.New("no content could be extracted from the video")

// DigestService orchestrates digest runs over one shared pipeline chain.
type DigestService struct {
	cfg         *config.Config
	client      *bilibili.Client
	temps       *tempfiles.Manager
	store       *cache.Store
	chain       cor.Chain
	fingerprint string
}

// NewDigestService wires the pipeline chain from its components.
//
// Inputs:
//   - cfg: The loaded configuration.
//   - client: The platform client.
//   - extractor: The ffmpeg wrapper.
//   - dispatcher: The visual-analysis dispatcher.
//   - transcriber: The optional speech recognizer.
//   - temps: The temp artifact manager.
//   - store: The result cache.
//
// Outputs:
//   - *DigestService: The ready service.
func NewDigestService(
	cfg *config.Config,
	client *bilibili.Client,
	extractor *media.Extractor,
	dispatcher *analysis.Dispatcher,
	transcriber *analysis.Transcriber,
	temps *tempfiles.Manager,
	store *cache.Store,
) *DigestService {
	chain := cor.NewBaseChain("digest").
		AddCommand(commands.NewMetadataCommand("metadata", client)).
		AddCommand(commands.NewGateCommand("gate", cfg.Video)).
		AddCommand(commands.NewSignalsCommand("signals", client, extractor, dispatcher, transcriber, temps, cfg.Video)).
		AddCommand(commands.NewAssembleCommand("assemble", dispatcher.Method()))

	return &DigestService{
		cfg:         cfg,
		client:      client,
		temps:       temps,
		store:       store,
		chain:       chain,
		fingerprint: cfg.Fingerprint(),
	}
}

// Resolve normalizes a raw identifier without running the pipeline.
func (s *DigestService) Resolve(ctx context.Context, raw string) (model.VideoReference, error) {
	return s.client.Resolve(ctx, raw)
}

// Digest produces the analysis result for a raw identifier. The bool
// reports whether the result came from the cache.
func (s *DigestService) Digest(ctx context.Context, raw string) (*model.AnalysisResult, bool, error) {
	ref, err := s.client.Resolve(ctx, raw)
	if err != nil {
		return nil, false, err
	}
	return s.DigestReference(ctx, ref)
}

// DigestReference runs the pipeline for an already-resolved reference,
// going through the cache and the single-flight group.
func (s *DigestService) DigestReference(ctx context.Context, ref model.VideoReference) (*model.AnalysisResult, bool, error) {
	key := cache.Key(ref.CacheID(), s.fingerprint)
	// The computed run is shared with every concurrent caller of the same
	// key, so it must not die with whichever caller happened to start it.
	// WithoutCancel still carries the leader's trace and log values.
	runCtx := context.WithoutCancel(ctx)
	return s.store.GetOrCompute(key, func() (*model.AnalysisResult, bool, error) {
		result, err := s.run(runCtx, ref)
		if err != nil {
			return nil, false, err
		}
		return result, true, nil
	})
}

// run executes one pipeline pass for the reference.
func (s *DigestService) run(ctx context.Context, ref model.VideoReference) (*model.AnalysisResult, error) {
	runID := uuid.NewString()
	chCtx := cor.NewBaseContext(runID, s.temps)
	defer chCtx.Close()

	chCtx.SetContext(ctx)
	chCtx.Add(commands.KeyReference, ref)
	chCtx.Add(cor.CtxIn, ref)

	s.chain.Execute(chCtx)

	if chCtx.HasErrors() {
		for name, err := range chCtx.GetErrors() {
			return nil, fmt.Errorf("step %s: %w", name, err)
		}
	}

	result, ok := chCtx.Get(commands.KeyResult).(*model.AnalysisResult)
	if !ok {
		return nil, fmt.Errorf("pipeline produced no result for %s", ref.Canonical)
	}
	if result.Status != model.StatusGated && !result.HasSignal() {
		return nil, retry.Terminal(retry.KindNoContent, ErrNoContent)
	}
	return result, nil
}

// Cached returns a cached result without triggering a run.
func (s *DigestService) Cached(cacheID string) (*model.AnalysisResult, bool) {
	return s.store.Get(cache.Key(cacheID, s.fingerprint))
}

// InvalidateVideo removes every cached entry for one video identity.
func (s *DigestService) InvalidateVideo(cacheID string) (int, error) {
	return s.store.Delete(cacheID)
}

// InvalidateAll empties the result cache.
func (s *DigestService) InvalidateAll() (int, error) {
	return s.store.Purge()
}

// Fingerprint exposes the active configuration fingerprint, mostly for
// diagnostics.
func (s *DigestService) Fingerprint() string {
	return s.fingerprint
}

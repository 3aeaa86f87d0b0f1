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

// Package config defines the application configuration, loaded from TOML
// files. It centralizes every configurable parameter of the pipeline: the
// gating ceilings, retry policy, cache and temp-file lifecycle settings, and
// the per-backend visual analysis options.
//
// Structs:
//   - Application: service name, data directory, listen address.
//   - Video: download gating ceilings and timeouts.
//   - Retry: shared retry attempts and interval for platform calls.
//   - Cache: enable flag for the result cache.
//   - Temp: temp artifact disposal mode and TTL.
//   - ASR: speech recognition enable flag.
//   - VisualBackend: settings for one visual-analysis variant.
//   - Analysis: visual method selection plus the per-variant payloads.
//   - Config: the top-level aggregate.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Visual method names. Selected once at configuration-read time; the
// dispatcher never inspects types at runtime to pick a backend.
const (
	VisualNone   = "none"
	VisualHost   = "host"   // Frames go to the host-provided vision model.
	VisualClient = "client" // Frames go to a self-configured OpenAI/Gemini-style API.
	VisualVideo  = "video"  // The whole video goes to a video-understanding API.
)

// Application holds general service settings.
type Application struct {
	Name       string `toml:"name"`        // Service name used in telemetry.
	DataDir    string `toml:"data_dir"`    // Root for cache entries and temp artifacts.
	ListenAddr string `toml:"listen_addr"` // HTTP listen address for serve mode.
}

// Video holds the download gate ceilings and the platform session credential.
// The SESSDATA cookie is sensitive: it is never logged and never embedded in
// cache entries.
type Video struct {
	MaxDurationMin     float64 `toml:"max_duration_min"`     // Downloads are skipped above this.
	MaxSizeMB          int64   `toml:"max_size_mb"`          // Downloads are skipped above this.
	DownloadTimeoutSec int     `toml:"download_timeout_sec"` // Per-attempt stream timeout.
	RequestTimeoutSec  int     `toml:"request_timeout_sec"`  // Per-attempt API call timeout.
	SessData           string  `toml:"sessdata"`             // Optional session cookie for subtitles.
}

// Retry is the shared retry policy for platform API calls and downloads.
// Visual backends carry their own attempt/interval settings.
type Retry struct {
	MaxAttempts int     `toml:"max_attempts"`
	IntervalSec float64 `toml:"interval_sec"`
}

// Interval returns the configured delay as a duration.
func (r Retry) Interval() time.Duration {
	return time.Duration(r.IntervalSec * float64(time.Second))
}

// Cache controls the result cache. When disabled every lookup misses and
// every store is a no-op; the single-flight guarantee still holds.
type Cache struct {
	Enabled bool `toml:"enabled"`
}

// Temp controls temp artifact disposal. MaxAgeMin zero selects immediate
// deletion once a run finishes; a positive value keeps artifacts until the
// periodic sweep finds them older than the TTL.
type Temp struct {
	MaxAgeMin        float64 `toml:"max_age_min"`
	SweepIntervalMin float64 `toml:"sweep_interval_min"`
}

// ASR controls the optional speech recognition branch.
type ASR struct {
	Enabled bool `toml:"enabled"`
}

// VisualBackend holds the settings of one visual-analysis variant. Unused
// fields for a given variant are simply ignored.
type VisualBackend struct {
	VisualMaxDurationMin float64 `toml:"visual_max_duration_min"` // Above this, visual analysis is skipped.
	MaxFrames            int     `toml:"max_frames"`              // Frame-sampling ceiling.
	MinIntervalSec       float64 `toml:"min_interval_sec"`        // Minimum spacing between sampled frames.
	MaxDescriptionChars  int     `toml:"max_description_chars"`   // Hard truncation for every description.
	FramePrompt          string  `toml:"frame_prompt"`            // Optional prompt override.

	// Self-configured client and video-understanding settings.
	ClientType    string  `toml:"client_type"` // "openai" or "gemini".
	BaseURL       string  `toml:"base_url"`
	APIKey        string  `toml:"api_key"`
	Model         string  `toml:"model"`
	TimeoutSec    int     `toml:"timeout_sec"`
	MaxAttempts   int     `toml:"max_attempts"`
	IntervalSec   float64 `toml:"interval_sec"`
	RatePerSecond int     `toml:"rate_per_second"` // Request rate ceiling toward the provider.

	// Video-understanding only.
	FPS             float64 `toml:"fps"`               // Provider-side sampling rate.
	SummaryMinChars int     `toml:"summary_min_chars"` // Target length range for the holistic description.
	SummaryMaxChars int     `toml:"summary_max_chars"`
	VideoPrompt     string  `toml:"video_prompt"`

	// Extra is passed through to the provider request unmodified.
	Extra map[string]interface{} `toml:"extra"`
}

// Retry returns the backend's own retry policy, falling back to a single
// attempt when unconfigured.
func (b VisualBackend) Retry() Retry {
	return Retry{MaxAttempts: b.MaxAttempts, IntervalSec: b.IntervalSec}
}

// Analysis selects the visual method and carries the per-variant payloads,
// keyed the same way the TOML file names them.
type Analysis struct {
	VisualMethod string                   `toml:"visual_method"` // none | host | client | video.
	Backends     map[string]VisualBackend `toml:"backends"`
}

// Backend returns the settings for the selected method. A missing section
// yields a zero value, which disables visual analysis via its zero duration
// ceiling.
func (a Analysis) Backend() VisualBackend {
	return a.Backends[a.VisualMethod]
}

// Config is the top-level aggregate loaded from TOML files.
type Config struct {
	Application Application `toml:"application"`
	Video       Video       `toml:"video"`
	Retry       Retry       `toml:"retry"`
	Cache       Cache       `toml:"cache"`
	Temp        Temp        `toml:"temp"`
	ASR         ASR         `toml:"asr"`
	Analysis    Analysis    `toml:"analysis"`
	FFmpegPath  string      `toml:"ffmpeg_path"`  // Optional explicit tool path.
	FFprobePath string      `toml:"ffprobe_path"`
}

// NewConfig creates a Config with sensible pipeline defaults. The maps are
// initialized so the TOML decoder can populate them without nil checks.
func NewConfig() *Config {
	return &Config{
		Application: Application{Name: "bili-digest", DataDir: "data", ListenAddr: ":8080"},
		Video: Video{
			MaxDurationMin:     30,
			MaxSizeMB:          200,
			DownloadTimeoutSec: 300,
			RequestTimeoutSec:  30,
		},
		Retry: Retry{MaxAttempts: 3, IntervalSec: 2},
		Cache: Cache{Enabled: true},
		Temp:  Temp{MaxAgeMin: 0, SweepIntervalMin: 10},
		Analysis: Analysis{
			VisualMethod: VisualNone,
			Backends:     make(map[string]VisualBackend),
		},
	}
}

// Fingerprint hashes every configuration option that affects pipeline output:
// the visual method and its backend settings, the gating ceilings, and the
// prompt overrides. Results cached under one fingerprint are never served to
// a request running under another. Credentials deliberately do not
// participate: changing a key does not change the output.
func (c *Config) Fingerprint() string {
	b := c.Analysis.Backend()
	h := sha256.New()
	fmt.Fprintf(h, "method=%s|maxdur=%g|maxsize=%d|", c.Analysis.VisualMethod, c.Video.MaxDurationMin, c.Video.MaxSizeMB)
	fmt.Fprintf(h, "visdur=%g|frames=%d|mininterval=%g|maxchars=%d|",
		b.VisualMaxDurationMin, b.MaxFrames, b.MinIntervalSec, b.MaxDescriptionChars)
	fmt.Fprintf(h, "fprompt=%s|vprompt=%s|model=%s|fps=%g|range=%d-%d|",
		b.FramePrompt, b.VideoPrompt, b.Model, b.FPS, b.SummaryMinChars, b.SummaryMaxChars)
	fmt.Fprintf(h, "asr=%t|", c.ASR.Enabled)

	// Extra parameters pass through to the provider, so they affect output;
	// sort the keys so the hash is stable.
	keys := make([]string, 0, len(b.Extra))
	for k := range b.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "extra.%s=%v|", k, b.Extra[k])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

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

// Package cache persists completed analysis results as one JSON file per
// entry and collapses concurrent identical requests.
//
// Logic Flow:
//  1. Keys combine the video identity with the configuration fingerprint,
//     so a changed prompt or ceiling never serves stale output.
//  2. Writes go to a temp file in the same directory and are renamed into
//     place. Readers therefore never observe a half-written entry even if
//     the process dies mid-store.
//  3. GetOrCompute wraps the miss path in a singleflight group: any number
//     of concurrent requests for the same key cost exactly one pipeline
//     run, and every caller receives that run's result.
//  4. Storage trouble (unreadable file, corrupt JSON, failed write) is
//     logged and treated as a miss or no-op. The cache never fails a run.
//
// Credentials never enter an entry: the stored value is the AnalysisResult
// aggregate, which carries no configuration.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/baize-lab/bili-digest/internal/core/model"
)

const entrySuffix = ".json"

// Store is the file-backed result cache. A disabled store misses on every
// lookup and drops every write, while GetOrCompute still collapses
// concurrent duplicates.
type Store struct {
	dir     string
	enabled bool
	flight  singleflight.Group
}

// NewStore creates the cache directory under dataDir.
//
// Inputs:
//   - dataDir: The application data root.
//   - enabled: When false the store becomes a pass-through.
//
// Outputs:
//   - *Store: The ready store.
//   - error: When the cache directory could not be created.
func NewStore(dataDir string, enabled bool) (*Store, error) {
	dir := filepath.Join(dataDir, "cache")
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Store{dir: dir, enabled: enabled}, nil
}

// Key builds the composite cache key from the video identity and the
// configuration fingerprint.
func Key(cacheID, fingerprint string) string {
	return cacheID + "_" + fingerprint
}

// Get loads an entry. A missing, unreadable or corrupt entry is a miss.
func (s *Store) Get(key string) (*model.AnalysisResult, bool) {
	if !s.enabled {
		return nil, false
	}
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("cache read failed, treating as miss", "key", key, "error", err)
		}
		return nil, false
	}
	var entry model.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		slog.Warn("cache entry corrupt, treating as miss", "key", key, "error", err)
		return nil, false
	}
	return &entry.Result, true
}

// Put stores an entry atomically. Failures are logged and swallowed.
func (s *Store) Put(key string, result *model.AnalysisResult) {
	if !s.enabled {
		return
	}
	entry := model.CacheEntry{Key: key, Result: *result, CreatedAt: time.Now().UTC()}
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("cache entry encode failed", "key", key, "error", err)
		return
	}

	tmp, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
		return
	}
	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmp.Name())
		slog.Warn("cache write failed", "key", key, "error", errors.Join(werr, cerr))
		return
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}

// Delete removes every entry for one video identity, across all
// fingerprints. It returns how many entries went away.
func (s *Store) Delete(cacheID string) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, cacheID+"_*"+entrySuffix))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Purge removes every cache entry and returns how many were deleted.
func (s *Store) Purge() (int, error) {
	if !s.enabled {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entrySuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// GetOrCompute returns the cached result for key, or runs compute exactly
// once across all concurrent callers and stores its result when compute
// says so. The bool reports whether the value came from the cache.
func (s *Store) GetOrCompute(key string, compute func() (*model.AnalysisResult, bool, error)) (*model.AnalysisResult, bool, error) {
	if res, ok := s.Get(key); ok {
		return res, true, nil
	}

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		// A concurrent leader may have stored the entry while this caller
		// waited on the group.
		if res, ok := s.Get(key); ok {
			return res, nil
		}
		res, cacheable, err := compute()
		if err != nil {
			return nil, err
		}
		if cacheable {
			s.Put(key, res)
		}
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*model.AnalysisResult), false, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+entrySuffix)
}

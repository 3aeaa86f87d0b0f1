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

// Package tempfiles owns the lifecycle of every file the pipeline writes to
// disk: downloaded videos, extracted audio tracks and sampled frames. Other
// components receive only path references; deletion always goes through the
// Manager so cleanup can locate every artifact a run created.
//
// Logic Flow:
//  1. A run asks the Manager for artifact paths (NewVideoFile, NewAudioFile,
//     NewFramesDir). The path is registered under the run id before any
//     blocking external call can fail, so cleanup never loses track of it.
//  2. When the run finishes, ReleaseRun disposes of its artifacts. In
//     immediate mode they are deleted on the spot; in TTL mode they stay on
//     disk until the periodic sweep finds them older than the configured max
//     age.
//  3. Deletion is guarded: a path must live inside the managed temp root and
//     carry one of the known artifact prefixes, and a frames directory must
//     contain nothing but images. The guards make it impossible for a bad
//     path to escalate into deleting user files.
//
// Every delete is idempotent. A file removed out-of-band is counted as
// already gone, never as an error. A process dying mid-run leaves orphans
// behind; the startup sweep of the next Manager instance reclaims them.
package tempfiles

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Artifact name prefixes. The deletion guards only ever touch paths carrying
// one of these.
const (
	videoPrefix  = "bili_video_"
	audioPrefix  = "bili_audio_"
	framesPrefix = "bili_frames_"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// SweepStats reports what one sweep pass reclaimed.
type SweepStats struct {
	FilesDeleted int
	DirsDeleted  int
	Errors       int
}

// Manager tracks every temp artifact by owning run. One Manager instance
// scopes all process-wide temp state; independent pipelines (for example
// under test) use independent Managers rooted in different directories.
type Manager struct {
	root       string        // <data>/temp, absolute.
	maxAge     time.Duration // Zero selects immediate disposal on ReleaseRun.
	sweepEvery time.Duration

	mu   sync.Mutex
	runs map[string][]string // run id -> registered artifact paths.

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager creates the temp root (videos/, audio/, frames/ subdirectories)
// and sweeps orphans left behind by a previous process before returning.
func NewManager(dataDir string, maxAge, sweepEvery time.Duration) (*Manager, error) {
	root, err := filepath.Abs(filepath.Join(dataDir, "temp"))
	if err != nil {
		return nil, err
	}
	for _, sub := range []string{"videos", "audio", "frames"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create temp subdir %s: %w", sub, err)
		}
	}

	m := &Manager{
		root:       root,
		maxAge:     maxAge,
		sweepEvery: sweepEvery,
		runs:       make(map[string][]string),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	// Orphans from a previous process are untracked, so age alone decides.
	// With immediate disposal configured, anything left over is stale.
	startupAge := maxAge
	stats := m.sweepOlderThan(startupAge)
	if stats.FilesDeleted+stats.DirsDeleted > 0 {
		slog.Info("reclaimed orphaned temp artifacts",
			"files", stats.FilesDeleted, "dirs", stats.DirsDeleted)
	}

	return m, nil
}

// Root returns the managed temp root, mainly for tests and diagnostics.
func (m *Manager) Root() string { return m.root }

// Start launches the periodic sweep when TTL disposal is configured. It is a
// no-op in immediate mode.
func (m *Manager) Start() {
	if m.maxAge <= 0 || m.sweepEvery <= 0 {
		close(m.done)
		return
	}
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Stop halts the periodic sweep. Artifacts still on disk stay there; they are
// reclaimed by the next Manager's startup sweep.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// NewVideoFile reserves and registers a path for a downloaded video.
func (m *Manager) NewVideoFile(runID string) string {
	p := filepath.Join(m.root, "videos", videoPrefix+uuid.NewString()[:8]+".mp4")
	m.register(runID, p)
	return p
}

// NewAudioFile reserves and registers a path for an extracted audio track.
func (m *Manager) NewAudioFile(runID string) string {
	p := filepath.Join(m.root, "audio", audioPrefix+uuid.NewString()[:8]+".wav")
	m.register(runID, p)
	return p
}

// NewFramesDir creates and registers a directory for sampled frames.
func (m *Manager) NewFramesDir(runID string) (string, error) {
	p := filepath.Join(m.root, "frames", framesPrefix+uuid.NewString()[:8])
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", err
	}
	m.register(runID, p)
	return p, nil
}

// Track registers an artifact path the manager did not create itself, such
// as a download renamed after container sniffing.
func (m *Manager) Track(runID, path string) {
	m.register(runID, path)
}

func (m *Manager) register(runID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID] = append(m.runs[runID], path)
}

// ReleaseRun ends a run's ownership of its artifacts. Immediate mode deletes
// them now; TTL mode leaves them for the sweep.
func (m *Manager) ReleaseRun(runID string) {
	m.mu.Lock()
	paths := m.runs[runID]
	delete(m.runs, runID)
	m.mu.Unlock()

	if m.maxAge > 0 {
		return
	}
	for _, p := range paths {
		if err := m.delete(p); err != nil {
			slog.Warn("temp artifact cleanup failed", "path", p, "error", err)
		}
	}
}

// Sweep deletes every artifact older than the configured max age. Registered
// artifacts of in-flight runs are skipped even when old.
func (m *Manager) Sweep() SweepStats {
	if m.maxAge <= 0 {
		return SweepStats{}
	}
	return m.sweepOlderThan(m.maxAge)
}

func (m *Manager) sweepOlderThan(age time.Duration) SweepStats {
	var stats SweepStats
	cutoff := time.Now().Add(-age)
	inFlight := m.inFlightSet()

	for _, sub := range []string{"videos", "audio", "frames"} {
		dir := filepath.Join(m.root, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			if inFlight[p] {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := m.delete(p); err != nil {
				stats.Errors++
				slog.Warn("sweep delete failed", "path", p, "error", err)
				continue
			}
			if e.IsDir() {
				stats.DirsDeleted++
			} else {
				stats.FilesDeleted++
			}
		}
	}
	return stats
}

func (m *Manager) inFlightSet() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool)
	for _, paths := range m.runs {
		for _, p := range paths {
			set[p] = true
		}
	}
	return set
}

// delete removes one artifact after the safety guards pass. A path that is
// already gone is success.
func (m *Manager) delete(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !m.inRoot(path) {
		return fmt.Errorf("refusing to delete outside temp root: %s", path)
	}

	base := filepath.Base(path)
	if info.IsDir() {
		if !strings.HasPrefix(base, framesPrefix) {
			return fmt.Errorf("refusing to delete directory without frames prefix: %s", base)
		}
		if err := ensureOnlyImages(path); err != nil {
			return err
		}
		return ignoreNotExist(os.RemoveAll(path))
	}

	if !strings.HasPrefix(base, videoPrefix) && !strings.HasPrefix(base, audioPrefix) {
		return fmt.Errorf("refusing to delete file without artifact prefix: %s", base)
	}
	return ignoreNotExist(os.Remove(path))
}

func (m *Manager) inRoot(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(m.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// ensureOnlyImages rejects a frames directory containing subdirectories or
// non-image files, the last guard before a recursive delete.
func ensureOnlyImages(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			return fmt.Errorf("frames dir contains subdirectory: %s", e.Name())
		}
		name := strings.ToLower(e.Name())
		ok := false
		for _, ext := range imageExtensions {
			if strings.HasSuffix(name, ext) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("frames dir contains non-image file: %s", e.Name())
		}
	}
	return nil
}

func ignoreNotExist(err error) error {
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

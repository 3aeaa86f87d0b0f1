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

package tempfiles

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImmediateManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), 0, 0)
	require.NoError(t, err)
	return m
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestReleaseRunImmediateMode(t *testing.T) {
	m := newImmediateManager(t)

	video := m.NewVideoFile("run-1")
	audio := m.NewAudioFile("run-1")
	frames, err := m.NewFramesDir("run-1")
	require.NoError(t, err)

	touch(t, video)
	touch(t, audio)
	touch(t, filepath.Join(frames, "frame_001.jpg"))

	m.ReleaseRun("run-1")

	for _, p := range []string{video, audio, frames} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "%s should be gone", p)
	}
}

func TestReleaseRunScopesToOneRun(t *testing.T) {
	m := newImmediateManager(t)

	mine := m.NewVideoFile("run-1")
	other := m.NewVideoFile("run-2")
	touch(t, mine)
	touch(t, other)

	m.ReleaseRun("run-1")

	_, err := os.Stat(mine)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(other)
	assert.NoError(t, err, "another run's artifact must survive")
}

func TestReleaseRunTTLModeKeepsArtifacts(t *testing.T) {
	m, err := NewManager(t.TempDir(), time.Hour, time.Hour)
	require.NoError(t, err)

	video := m.NewVideoFile("run-1")
	touch(t, video)
	m.ReleaseRun("run-1")

	_, err = os.Stat(video)
	assert.NoError(t, err, "TTL mode defers deletion to the sweep")
}

func TestSweepReclaimsOldArtifacts(t *testing.T) {
	m, err := NewManager(t.TempDir(), time.Minute, time.Hour)
	require.NoError(t, err)

	old := m.NewVideoFile("run-1")
	touch(t, old)
	m.ReleaseRun("run-1")
	past := time.Now().Add(-10 * time.Minute)
	require.NoError(t, os.Chtimes(old, past, past))

	fresh := m.NewVideoFile("run-2")
	touch(t, fresh)
	m.ReleaseRun("run-2")

	stats := m.Sweep()
	assert.Equal(t, 1, stats.FilesDeleted)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "artifacts younger than the TTL stay")
}

func TestSweepSkipsInFlightRuns(t *testing.T) {
	m, err := NewManager(t.TempDir(), time.Minute, time.Hour)
	require.NoError(t, err)

	video := m.NewVideoFile("run-1")
	touch(t, video)
	past := time.Now().Add(-10 * time.Minute)
	require.NoError(t, os.Chtimes(video, past, past))

	stats := m.Sweep()
	assert.Zero(t, stats.FilesDeleted, "a registered run's artifact is never swept")

	_, err = os.Stat(video)
	assert.NoError(t, err)
}

func TestStartupSweepReclaimsOrphans(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 0, 0)
	require.NoError(t, err)

	orphan := m.NewVideoFile("run-crashed")
	touch(t, orphan)
	// Simulate a process death: the run is never released.

	_, err = NewManager(dir, 0, 0)
	require.NoError(t, err)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err), "the next process reclaims orphans at startup")
}

func TestTrackRegistersForeignPath(t *testing.T) {
	m := newImmediateManager(t)

	video := m.NewVideoFile("run-1")
	touch(t, video)
	renamed := video[:len(video)-len(".mp4")] + ".flv"
	require.NoError(t, os.Rename(video, renamed))
	m.Track("run-1", renamed)

	m.ReleaseRun("run-1")
	_, err := os.Stat(renamed)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteGuards(t *testing.T) {
	m := newImmediateManager(t)

	t.Run("outside root", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), videoPrefix+"x.mp4")
		touch(t, outside)
		require.Error(t, m.delete(outside))
		_, err := os.Stat(outside)
		assert.NoError(t, err)
	})

	t.Run("missing artifact prefix", func(t *testing.T) {
		stray := filepath.Join(m.Root(), "videos", "important.mp4")
		touch(t, stray)
		require.Error(t, m.delete(stray))
		_, err := os.Stat(stray)
		assert.NoError(t, err)
	})

	t.Run("frames dir with non-image file", func(t *testing.T) {
		frames, err := m.NewFramesDir("run-1")
		require.NoError(t, err)
		touch(t, filepath.Join(frames, "frame_001.jpg"))
		touch(t, filepath.Join(frames, "notes.txt"))
		require.Error(t, m.delete(frames))
		_, err = os.Stat(frames)
		assert.NoError(t, err)
	})

	t.Run("already gone is success", func(t *testing.T) {
		assert.NoError(t, m.delete(filepath.Join(m.Root(), "videos", videoPrefix+"ghost.mp4")))
	})
}

func TestStartStopTTLMode(t *testing.T) {
	m, err := NewManager(t.TempDir(), time.Hour, 10*time.Millisecond)
	require.NoError(t, err)
	m.Start()
	m.Stop()
}

func TestStartStopImmediateMode(t *testing.T) {
	m := newImmediateManager(t)
	m.Start()
	m.Stop()
}

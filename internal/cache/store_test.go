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

package cache

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baize-lab/bili-digest/internal/core/model"
)

func sampleResult(id string) *model.AnalysisResult {
	return &model.AnalysisResult{
		Reference: model.VideoReference{Canonical: id, Kind: model.ReferenceBV},
		Status:    model.StatusFull,
		Metadata:  model.VideoMetadata{Title: "测试视频", Duration: 120},
		Transcript: []model.TranscriptFragment{
			{Source: model.SourceSubtitle, Text: "大家好"},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir(), true)
	require.NoError(t, err)

	key := Key("BV1xx411c7XZ", "abcd1234")
	_, ok := s.Get(key)
	assert.False(t, ok)

	s.Put(key, sampleResult("BV1xx411c7XZ"))

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "BV1xx411c7XZ", got.Reference.Canonical)
	assert.Equal(t, "测试视频", got.Metadata.Title)
	assert.Len(t, got.Transcript, 1)
}

func TestStoreDisabledAlwaysMisses(t *testing.T) {
	s, err := NewStore(t.TempDir(), false)
	require.NoError(t, err)

	key := Key("BV1xx411c7XZ", "abcd1234")
	s.Put(key, sampleResult("BV1xx411c7XZ"))
	_, ok := s.Get(key)
	assert.False(t, ok)
}

func TestStoreCorruptEntryIsMiss(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, true)
	require.NoError(t, err)

	key := Key("BV1xx411c7XZ", "abcd1234")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache", key+".json"), []byte("{not json"), 0o644))

	_, ok := s.Get(key)
	assert.False(t, ok)
}

func TestStoreDeleteByIdentity(t *testing.T) {
	s, err := NewStore(t.TempDir(), true)
	require.NoError(t, err)

	s.Put(Key("BV1xx411c7XZ", "aaaa"), sampleResult("BV1xx411c7XZ"))
	s.Put(Key("BV1xx411c7XZ", "bbbb"), sampleResult("BV1xx411c7XZ"))
	s.Put(Key("BV1xx411c7XZ_p2", "aaaa"), sampleResult("BV1xx411c7XZ"))
	s.Put(Key("av170001", "aaaa"), sampleResult("av170001"))

	// Both fingerprints of the first part go; the second part and the other
	// video survive only as far as the prefix match allows.
	removed, err := s.Delete("BV1xx411c7XZ")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, ok := s.Get(Key("av170001", "aaaa"))
	assert.True(t, ok)
}

func TestStorePurge(t *testing.T) {
	s, err := NewStore(t.TempDir(), true)
	require.NoError(t, err)

	s.Put(Key("BV1xx411c7XZ", "aaaa"), sampleResult("BV1xx411c7XZ"))
	s.Put(Key("av170001", "aaaa"), sampleResult("av170001"))

	removed, err := s.Purge()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok := s.Get(Key("BV1xx411c7XZ", "aaaa"))
	assert.False(t, ok)
}

func TestGetOrComputeCollapsesConcurrentCallers(t *testing.T) {
	s, err := NewStore(t.TempDir(), true)
	require.NoError(t, err)

	var computes atomic.Int32
	release := make(chan struct{})
	key := Key("BV1xx411c7XZ", "abcd1234")

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*model.AnalysisResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, _, err := s.GetOrCompute(key, func() (*model.AnalysisResult, bool, error) {
				computes.Add(1)
				<-release
				return sampleResult("BV1xx411c7XZ"), true, nil
			})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}

	// Give every caller time to join the flight before the leader finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), computes.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "BV1xx411c7XZ", r.Reference.Canonical)
	}

	// The leader stored the entry; the next caller hits the cache.
	_, cached, err := s.GetOrCompute(key, func() (*model.AnalysisResult, bool, error) {
		t.Fatal("compute must not run on a warm cache")
		return nil, false, nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestGetOrComputeDoesNotStoreUncacheable(t *testing.T) {
	s, err := NewStore(t.TempDir(), true)
	require.NoError(t, err)

	key := Key("BV1xx411c7XZ", "abcd1234")
	_, _, err = s.GetOrCompute(key, func() (*model.AnalysisResult, bool, error) {
		return sampleResult("BV1xx411c7XZ"), false, nil
	})
	require.NoError(t, err)

	_, ok := s.Get(key)
	assert.False(t, ok)
}

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

package media

import "math"

// FrameSchedule computes equidistant sampling offsets for a video of the
// given duration. For N frames the i-th offset is (i/(N+1))*duration, which
// keeps samples away from both the title card and the end screen.
//
// The requested count is reduced until adjacent offsets are at least
// minInterval seconds apart, so a 30-second clip never yields 10 frames of
// the same shot. Duration zero or a non-positive count yields an empty
// schedule.
//
// Inputs:
//   - durationSec: The video duration in seconds.
//   - maxFrames: The upper bound on sampled frames.
//   - minIntervalSec: The minimum spacing between samples, in seconds.
//
// Outputs:
//   - []float64: Offsets in seconds, strictly increasing.
func FrameSchedule(durationSec int, maxFrames int, minIntervalSec float64) []float64 {
	if durationSec <= 0 || maxFrames <= 0 {
		return nil
	}

	n := maxFrames
	if minIntervalSec > 0 {
		// Spacing between equidistant samples is duration/(n+1).
		fit := int(math.Floor(float64(durationSec)/minIntervalSec)) - 1
		if fit < n {
			n = fit
		}
	}
	if n < 1 {
		n = 1
	}

	offsets := make([]float64, 0, n)
	for i := 1; i <= n; i++ {
		offsets = append(offsets, float64(i)/float64(n+1)*float64(durationSec))
	}
	return offsets
}

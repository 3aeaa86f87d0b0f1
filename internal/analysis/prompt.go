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
	"fmt"
	"strings"
)

// Prompt defaults. Operators may override the per-frame and per-video
// prompts, but the grounding constraint is appended unconditionally so no
// override can re-enable speculation about off-screen content.
const (
	defaultFramePrompt = "请用一句中文描述这张视频截图的画面要点，少于25字"

	defaultVideoPrompt = "请用中文概括这个视频的主要内容。"

	constraintSuffix = "仅描述画面中实际出现的内容，不要推测或编造。若无法判断，请回答'未识别'。"
)

// framePrompt builds the effective per-frame prompt from an optional
// override.
func framePrompt(override string) string {
	p := defaultFramePrompt
	if strings.TrimSpace(override) != "" {
		p = override
	}
	return p + constraintSuffix
}

// videoPrompt builds the effective holistic prompt, including the summary
// length range when configured.
func videoPrompt(override string, minChars, maxChars int) string {
	p := defaultVideoPrompt
	if strings.TrimSpace(override) != "" {
		p = override
	}
	if minChars > 0 && maxChars >= minChars {
		p += fmt.Sprintf("字数控制在%d到%d字之间。", minChars, maxChars)
	}
	return p + constraintSuffix
}

// truncate enforces the hard description ceiling in runes, so multi-byte
// output never gets split mid-character.
func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

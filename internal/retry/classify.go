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

package retry

import "fmt"

// ClassifyStatus maps an HTTP status code onto the transient/terminal split.
// 5xx and 429 are worth retrying; 404 and 403 carry specific kinds so callers
// can report them; everything else in 4xx is a terminal unknown.
func ClassifyStatus(status int) error {
	err := fmt.Errorf("http status %d", status)
	switch {
	case status >= 500:
		return Transient(KindNetwork, err)
	case status == 429:
		return Transient(KindRateLimited, err)
	case status == 404:
		return Terminal(KindVideoNotFound, err)
	case status == 403:
		return Terminal(KindPermissionDenied, err)
	case status >= 400:
		return Terminal(KindUnknown, err)
	}
	return nil
}

// ClassifyAPICode maps a Bilibili API business error code onto the
// transient/terminal split. The code list follows the community API
// documentation; anything unlisted is terminal by default.
func ClassifyAPICode(code int, message string) error {
	err := fmt.Errorf("api error code=%d message=%q", code, message)
	switch code {
	case 0:
		return nil
	case -404, 62002, 62004:
		// Missing, hidden, or still under review.
		return Terminal(KindVideoNotFound, err)
	case -403:
		return Terminal(KindPermissionDenied, err)
	case -504, -503:
		return Transient(KindNetwork, err)
	case -509:
		return Transient(KindRateLimited, err)
	}
	return Terminal(KindUnknown, err)
}

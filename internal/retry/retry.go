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

// Package retry provides the shared retry executor used by every component
// that talks to a remote service, together with the error classification that
// decides what is worth retrying.
//
// Logic Flow:
//  1. A caller wraps one unit of remote work in a func and hands it to Do
//     with a Config (max attempts, fixed interval).
//  2. The executor runs the func. A *TransientError is retried after the
//     configured interval; a *TerminalError propagates immediately without
//     consuming any retry budget; any other error is treated as terminal.
//  3. When the attempt budget is exhausted the last transient error is
//     wrapped in *ExhaustedError so callers can distinguish "gave up" from
//     "was never going to work".
//
// Classification helpers translate HTTP status codes and Bilibili API error
// codes into the transient/terminal split so call sites stay declarative.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Kind is a coarse category for a failure, used to pick user-facing wording
// and to decide retryability.
type Kind string

const (
	KindVideoNotFound    Kind = "video_not_found"
	KindVideoTooLong     Kind = "video_too_long"
	KindVideoTooLarge    Kind = "video_too_large"
	KindNetwork          Kind = "network_error"
	KindNoContent        Kind = "no_content"
	KindPermissionDenied Kind = "permission_denied"
	KindRateLimited      Kind = "rate_limited"
	KindUnknown          Kind = "unknown"
)

// TransientError marks a failure the executor may retry: timeouts, connection
// resets, 5xx-equivalent server errors and rate limiting.
type TransientError struct {
	Kind Kind
	Err  error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient (%s): %v", e.Kind, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError marks a failure retrying cannot fix: missing videos, rejected
// credentials, malformed input, 4xx-equivalent client errors.
type TerminalError struct {
	Kind Kind
	Err  error
}

func (e *TerminalError) Error() string { return fmt.Sprintf("terminal (%s): %v", e.Kind, e.Err) }
func (e *TerminalError) Unwrap() error { return e.Err }

// ExhaustedError wraps the last transient failure after the attempt budget
// ran out. It is terminal for the step that raised it.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Last)
}
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Transient wraps err as a retryable failure of the given kind.
func Transient(kind Kind, err error) error { return &TransientError{Kind: kind, Err: err} }

// Terminal wraps err as a non-retryable failure of the given kind.
func Terminal(kind Kind, err error) error { return &TerminalError{Kind: kind, Err: err} }

// KindOf extracts the failure kind from any error produced by this package.
func KindOf(err error) Kind {
	var tr *TransientError
	if errors.As(err, &tr) {
		return tr.Kind
	}
	var te *TerminalError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// Config controls one executor invocation. The interval is fixed between
// attempts; there is no exponential growth, matching the platform client's
// historical behavior.
type Config struct {
	MaxAttempts int           // Total attempts, at least 1.
	Interval    time.Duration // Fixed delay between attempts.
}

// Normalize clamps nonsensical values so a zero Config still makes one
// attempt with no delay.
func (c Config) Normalize() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	return c
}

// Do runs op up to cfg.MaxAttempts times. Transient failures are retried
// after cfg.Interval; terminal failures and context cancellation propagate
// immediately. Ops with side effects must clean up after themselves before
// returning a transient error: the executor calls them again verbatim.
func Do[T any](ctx context.Context, cfg Config, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	cfg = cfg.Normalize()

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}

		var tr *TransientError
		if !errors.As(err, &tr) {
			// Terminal and unclassified errors do not consume the budget.
			return zero, err
		}
		last = err

		if attempt == cfg.MaxAttempts {
			break
		}
		slog.Debug("retrying after transient failure",
			"op", name, "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}

	slog.Warn("retry budget exhausted", "op", name, "attempts", cfg.MaxAttempts, "error", last)
	return zero, &ExhaustedError{Attempts: cfg.MaxAttempts, Last: last}
}

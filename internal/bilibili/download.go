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

// Package bilibili is the platform client. This file streams the resolved
// video file into a temp artifact.
//
// Logic Flow:
//  1. Each attempt opens the destination with truncation, so a retry never
//     appends onto a partial body; any failure mid-stream removes the file
//     before the transient error reaches the executor.
//  2. The size ceiling is enforced twice: against Content-Length before any
//     byte is written, and against the running count during the copy, since
//     the platform does not always declare a length.
//  3. After a successful download the leading bytes are sniffed so ffmpeg
//     sees a file extension matching the actual container format. Some
//     streams come back FLV regardless of the requested format.
package bilibili

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"

	"github.com/baize-lab/bili-digest/internal/retry"
)

// DownloadError reports a download whose retry budget ran out. Whether it
// fails the run depends on what else the run gathered.
type DownloadError struct {
	Err error
}

func (e *DownloadError) Error() string { return fmt.Sprintf("video download failed: %v", e.Err) }
func (e *DownloadError) Unwrap() error { return e.Err }

// Download streams url into dest, bounded by maxBytes. On success it returns
// the final path, which may differ from dest when the sniffed container
// format required a different extension. The caller owns registering both
// paths with the temp manager.
func (c *Client) Download(ctx context.Context, url, dest string, maxBytes int64, timeout time.Duration) (string, error) {
	streamClient := &http.Client{Timeout: timeout}

	_, err := retry.Do(ctx, c.retryCfg, "bilibili.download", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.downloadOnce(ctx, streamClient, url, dest, maxBytes)
	})
	if err != nil {
		return "", &DownloadError{Err: err}
	}

	return fixExtension(dest), nil
}

// downloadOnce performs a single attempt. The destination is truncated on
// open and removed on any failure, keeping attempts independent.
func (c *Client) downloadOnce(ctx context.Context, client *http.Client, url, dest string, maxBytes int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Terminal(retry.KindUnknown, err)
	}
	c.decorate(req)

	resp, err := client.Do(req)
	if err != nil {
		return retry.Transient(retry.KindNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return retry.ClassifyStatus(resp.StatusCode)
	}

	if resp.ContentLength > 0 && resp.ContentLength > maxBytes {
		return retry.Terminal(retry.KindVideoTooLarge,
			fmt.Errorf("declared size %d exceeds limit %d", resp.ContentLength, maxBytes))
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return retry.Terminal(retry.KindUnknown, err)
	}

	written, copyErr := io.Copy(f, io.LimitReader(resp.Body, maxBytes+1))
	closeErr := f.Close()

	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dest)
		if copyErr == nil {
			copyErr = closeErr
		}
		return retry.Transient(retry.KindNetwork, copyErr)
	}
	if written > maxBytes {
		_ = os.Remove(dest)
		return retry.Terminal(retry.KindVideoTooLarge,
			fmt.Errorf("stream exceeded limit %d", maxBytes))
	}
	return nil
}

// fixExtension renames the file when the sniffed container format disagrees
// with the extension it was saved under. Sniffing failures leave the name
// alone; ffmpeg usually copes.
func fixExtension(path string) string {
	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown {
		return path
	}
	want := "." + kind.Extension
	if strings.EqualFold(filepath.Ext(path), want) {
		return path
	}
	renamed := strings.TrimSuffix(path, filepath.Ext(path)) + want
	if err := os.Rename(path, renamed); err != nil {
		return path
	}
	return renamed
}

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

// Package commands implements the bili-digest CLI.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/baize-lab/bili-digest/internal/config"
	"github.com/baize-lab/bili-digest/internal/telemetry"
)

var (
	// configPrefix overrides the config directory for this invocation.
	configPrefix string

	// runtimeName selects the config overlay (local, test, prod).
	runtimeName string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "bili-digest",
	Short: "Bilibili video content extraction pipeline",
	Long: `bili-digest turns a Bilibili video reference (BV/av id, watch URL or
b23.tv short link) into a structured content digest: metadata, subtitles,
optional speech transcription and optional visual analysis.

Run it as an HTTP service with "serve" or one-shot with "digest".`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		telemetry.SetupLogging()
		if configPrefix != "" {
			if err := os.Setenv(config.EnvConfigPrefix, configPrefix); err != nil {
				return err
			}
		}
		if runtimeName != "" {
			if err := os.Setenv(config.EnvRuntime, runtimeName); err != nil {
				return err
			}
		}
		return nil
	},
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPrefix, "config-dir", "",
		"Directory holding .env.toml configuration files",
	)
	rootCmd.PersistentFlags().StringVar(
		&runtimeName, "runtime", "",
		"Runtime overlay to load (local, test, prod)",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(cacheCmd)
}

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

// Package config defines the application configuration. This file implements
// the hierarchical loader: a base `.env.toml` is read first and an optional
// environment-specific `.env.<runtime>.toml` overwrites values on top of it.
// The config directory and the runtime name come from environment variables,
// which keeps test, local and production setups apart without code changes.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	configFileBaseName  = ".env"
	configFileExtension = ".toml"
	configSeparator     = "."

	// EnvConfigPrefix names the directory holding the config files.
	EnvConfigPrefix = "BILI_CONFIG_PREFIX"
	// EnvRuntime names the runtime context ("local", "test", "prod").
	EnvRuntime = "BILI_RUNTIME"
)

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return err == nil
}

// Load populates cfg from the base configuration file and then overlays the
// environment-specific file when present. Missing files are not an error; a
// malformed file is.
func Load(cfg *Config) error {
	prefix := os.Getenv(EnvConfigPrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}

	runtime := os.Getenv(EnvRuntime)
	if runtime == "" {
		runtime = "local"
	}

	base := prefix + configFileBaseName + configFileExtension
	if fileExists(base) {
		if _, err := toml.DecodeFile(base, cfg); err != nil {
			return fmt.Errorf("decode base config %s: %w", base, err)
		}
	}

	overlay := prefix + configFileBaseName + configSeparator + runtime + configFileExtension
	if fileExists(overlay) {
		if _, err := toml.DecodeFile(overlay, cfg); err != nil {
			return fmt.Errorf("decode %s config %s: %w", runtime, overlay, err)
		}
	}

	return nil
}

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

package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// digestCmd runs one pipeline pass and prints the result as JSON.
var digestCmd = &cobra.Command{
	Use:   "digest <input>",
	Short: "Digest one video and print the result",
	Long: `Digest resolves the given identifier (BV/av id, watch URL or b23.tv
short link), runs the pipeline and prints the analysis result as JSON.
Cached results are served without re-running the pipeline.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		state, err := initState(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		state.temps.Start()
		defer state.temps.Stop()

		result, cached, err := state.digests.Digest(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(map[string]interface{}{
			"result": result,
			"cached": cached,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

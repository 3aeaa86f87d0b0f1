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
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
}

// cachePurgeCmd empties the whole cache, or one video's entries when an id
// is given.
var cachePurgeCmd = &cobra.Command{
	Use:   "purge [video-id]",
	Short: "Remove cached results",
	Args:  cobra.MaximumNArgs(1),
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

		var removed int
		if len(args) == 1 {
			removed, err = state.digests.InvalidateVideo(args[0])
		} else {
			removed, err = state.digests.InvalidateAll()
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d cache entries\n", removed)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
}

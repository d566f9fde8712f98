// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/commands/approve"
	"github.com/tombee/maestro/internal/commands/classify"
	"github.com/tombee/maestro/internal/commands/iteration"
	"github.com/tombee/maestro/internal/commands/monitor"
	"github.com/tombee/maestro/internal/commands/route"
	"github.com/tombee/maestro/internal/commands/run"
	"github.com/tombee/maestro/internal/commands/shared"
	"github.com/tombee/maestro/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for Maestro
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maestro",
		Short: "Maestro - multi-agent workflow orchestration",
		Long: `Maestro routes development tasks to agent chains and drives them
through workflow runs with crash-safe state, approval gates, and
pattern learning.

Run 'maestro route --task "…"' to see how a task would be routed.
Run 'maestro monitor --status' for system health.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	// Get flag pointers from shared package
	verbose, quiet, json, query, home := shared.RegisterFlagPointers()

	// Add global flags
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(query, "query", "", "jq expression applied to JSON output")
	cmd.PersistentFlags().StringVar(home, "home", "", "Maestro home directory (default: $MAESTRO_HOME or ~/.maestro)")

	cmd.AddCommand(run.NewRunCommand())
	cmd.AddCommand(monitor.NewMonitorCommand())
	cmd.AddCommand(classify.NewClassifyCommand())
	cmd.AddCommand(route.NewRouteCommand())
	cmd.AddCommand(iteration.NewIterationCommand())
	cmd.AddCommand(approve.NewApproveCommand())
	cmd.AddCommand(version.NewVersionCommand())
	cmd.SetHelpCommand(NewHelpCommand(cmd))

	return cmd
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}

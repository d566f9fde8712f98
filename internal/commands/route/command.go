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

// Package route implements the route command.
package route

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/commands/shared"
	"github.com/tombee/maestro/pkg/classify"
	"github.com/tombee/maestro/pkg/patterns"
	"github.com/tombee/maestro/pkg/route"
)

// NewRouteCommand creates the route command
func NewRouteCommand() *cobra.Command {
	var task string
	var files []string
	var root string

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Route a task to an agent chain",
		Long: `Classify a task and resolve it against the routing matrix: agent
chain, workflow, plan reviewer, signoffs, and the security decision. A
blocked route exits with code 1.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				var err error
				root, err = os.Getwd()
				if err != nil {
					return err
				}
			}

			classifier := classify.New(classify.WithRoot(root))
			learner := patterns.New(filepath.Join(shared.Home(), "patterns"))
			router := route.New(classifier, route.WithAdvisor(learner))

			result, err := router.Route(task, files)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				if err := shared.EmitJSON(cmd, result); err != nil {
					return err
				}
			} else {
				render(cmd, result)
			}

			if result.Blocked {
				return shared.NewFailureError(
					fmt.Sprintf("route blocked by security enforcement (%s)", strings.Join(result.Security.Categories, ", ")), nil)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&task, "task", "", "Task description")
	cmd.Flags().StringSliceVar(&files, "files", nil, "File glob patterns")
	cmd.Flags().StringVar(&root, "root", "", "Project root for glob resolution (default: cwd)")
	cmd.MarkFlagRequired("task")

	return cmd
}

func render(cmd *cobra.Command, result *route.Result) {
	cmd.Printf("%s %s\n", shared.RenderLabel("workflow:"), shared.Bold.Render(result.Workflow))
	cmd.Printf("%s %s\n", shared.RenderLabel("chain:"), strings.Join(result.FullChain, " -> "))
	if result.PlanReviewer != "" {
		cmd.Printf("%s %s\n", shared.RenderLabel("plan reviewer:"), result.PlanReviewer)
	}
	if len(result.Signoffs) > 0 {
		cmd.Printf("%s %s\n", shared.RenderLabel("signoffs:"), strings.Join(result.Signoffs, ", "))
	}
	if result.Security.Priority != route.PriorityNone {
		cmd.Printf("%s %s\n", shared.RenderLabel("security:"), string(result.Security.Priority))
	}
	if result.Blocked {
		cmd.Println(shared.RenderError("blocked: security review required before execution"))
	}
	if result.Suggestion != nil && result.Suggestion.HasRecommendations {
		cmd.Println(shared.Header.Render("Pattern suggestions"))
		for _, rec := range result.Suggestion.Recommendations {
			cmd.Printf("  %s %s\n", shared.SymbolInfo, rec)
		}
	}
}

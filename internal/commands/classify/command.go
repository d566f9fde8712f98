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

// Package classify implements the classify command.
package classify

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/commands/shared"
	"github.com/tombee/maestro/pkg/classify"
)

// NewClassifyCommand creates the classify command
func NewClassifyCommand() *cobra.Command {
	var task string
	var files []string
	var root string

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a task description",
		Long: `Score a task description for complexity and task type, resolve any
file patterns against the project root, and print the derived quality
gates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				var err error
				root, err = os.Getwd()
				if err != nil {
					return err
				}
			}

			classifier := classify.New(classify.WithRoot(root))
			result, err := classifier.Classify(task, files)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd, result)
			}
			render(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&task, "task", "", "Task description")
	cmd.Flags().StringSliceVar(&files, "files", nil, "File glob patterns")
	cmd.Flags().StringVar(&root, "root", "", "Project root for glob resolution (default: cwd)")
	cmd.MarkFlagRequired("task")

	return cmd
}

func render(cmd *cobra.Command, result *classify.Result) {
	cmd.Printf("%s %s\n", shared.RenderLabel("complexity:"), shared.Bold.Render(string(result.Complexity)))
	cmd.Printf("%s %s\n", shared.RenderLabel("task type:"), result.TaskType)
	cmd.Printf("%s %s\n", shared.RenderLabel("agent:"), result.PrimaryAgent)

	var gates []string
	if result.Gates.Planner {
		gates = append(gates, "planner")
	}
	if result.Gates.Review {
		gates = append(gates, "review")
	}
	if result.Gates.ImpactAnalysis {
		gates = append(gates, "impact-analysis")
	}
	if len(gates) > 0 {
		cmd.Printf("%s %s\n", shared.RenderLabel("gates:"), strings.Join(gates, ", "))
	}
	if result.FileCount > 0 {
		cmd.Printf("%s %d files", shared.RenderLabel("scope:"), result.FileCount)
		if result.CrossModule {
			cmd.Print(" (cross-module)")
		}
		cmd.Println()
	}
	if result.SecuritySensitive {
		cmd.Println(shared.RenderWarn("security-sensitive"))
	}
	for _, reason := range result.Reasoning {
		cmd.Printf("  %s %s\n", shared.SymbolInfo, reason)
	}
}

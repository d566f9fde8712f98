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

// Package iteration implements the iteration command group for
// self-healing loop state.
package iteration

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/commands/shared"
	"github.com/tombee/maestro/pkg/iteration"
)

// NewIterationCommand creates the iteration command group
func NewIterationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iteration",
		Short: "Manage per-workflow iteration state",
		Long: `Track self-healing loop state per workflow id: iteration count,
component ratings against a target, and fix history.`,
	}

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newBumpCommand())
	cmd.AddCommand(newSetStatusCommand())
	cmd.AddCommand(newSetRatingCommand())
	cmd.AddCommand(newCompleteCommand())

	return cmd
}

func manager() *iteration.Manager {
	return iteration.NewManager(filepath.Join(shared.Home(), "iterations"))
}

func emit(cmd *cobra.Command, state *iteration.State, message string) error {
	if shared.GetJSON() {
		return shared.EmitJSON(cmd, state)
	}
	if message != "" {
		cmd.Println(shared.RenderOK(message))
	}
	render(cmd, state)
	return nil
}

func render(cmd *cobra.Command, state *iteration.State) {
	cmd.Printf("%s %s\n", shared.RenderLabel("workflow:"), shared.Bold.Render(state.WorkflowID))
	cmd.Printf("%s %d  %s %.1f  %s %s\n",
		shared.RenderLabel("iterations:"), state.IterationCount,
		shared.RenderLabel("target:"), state.TargetRating,
		shared.RenderLabel("status:"), state.Status)
	if len(state.ComponentRatings) > 0 {
		components := make([]string, 0, len(state.ComponentRatings))
		for name := range state.ComponentRatings {
			components = append(components, name)
		}
		sort.Strings(components)
		for _, name := range components {
			rating := state.ComponentRatings[name]
			met := rating.Score >= state.TargetRating
			cmd.Printf("  %-24s %.1f %s\n", name, rating.Score, shared.RenderStatus(met, "OK"))
		}
	}
	if state.CompletionStatus == iteration.CompletionComplete {
		cmd.Println(shared.RenderOK("all components meet the target"))
	}
}

func newInitCommand() *cobra.Command {
	var id string
	var target float64

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialise iteration state for a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := manager().Init(id, target)
			if err != nil {
				return err
			}
			return emit(cmd, state, fmt.Sprintf("initialised iteration state for %s", id))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Workflow id")
	cmd.Flags().Float64Var(&target, "target", 8, "Target rating")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newGetCommand() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print iteration state",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := manager().Get(id)
			if err != nil {
				return err
			}
			return emit(cmd, state, "")
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Workflow id")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newBumpCommand() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "bump",
		Short: "Increment the iteration count",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := manager().Bump(id)
			if err != nil {
				return err
			}
			return emit(cmd, state, fmt.Sprintf("iteration %d", state.IterationCount))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Workflow id")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newSetStatusCommand() *cobra.Command {
	var id string
	var status string

	cmd := &cobra.Command{
		Use:   "set-status",
		Short: "Set the iteration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := manager().SetStatus(id, status)
			if err != nil {
				return err
			}
			return emit(cmd, state, fmt.Sprintf("status %s", status))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Workflow id")
	cmd.Flags().StringVar(&status, "status", "", "New status (active, paused, completed)")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("status")
	return cmd
}

func newSetRatingCommand() *cobra.Command {
	var id string
	var component string
	var score float64

	cmd := &cobra.Command{
		Use:   "set-rating",
		Short: "Record a component rating",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := manager().SetRating(id, component, score)
			if err != nil {
				return err
			}
			return emit(cmd, state, fmt.Sprintf("%s rated %.1f", component, score))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Workflow id")
	cmd.Flags().StringVar(&component, "component", "", "Component name")
	cmd.Flags().Float64Var(&score, "score", 0, "Rating score")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("component")
	cmd.MarkFlagRequired("score")
	return cmd
}

func newCompleteCommand() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark the iteration complete",
		Long:  `Marks the iteration complete. Fails unless every rated component meets the target rating.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := manager().MarkComplete(id)
			if err != nil {
				return err
			}
			return emit(cmd, state, fmt.Sprintf("iteration for %s complete", id))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Workflow id")
	cmd.MarkFlagRequired("id")
	return cmd
}

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

// Package run implements the run command group: create, read, update,
// get-current-step, and step.
package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/commands/shared"
	"github.com/tombee/maestro/internal/tracing"
	"github.com/tombee/maestro/pkg/agent"
	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/executor"
	"github.com/tombee/maestro/pkg/patterns"
	runstore "github.com/tombee/maestro/pkg/run"
	"github.com/tombee/maestro/pkg/schema"
	"github.com/tombee/maestro/pkg/session"
	"github.com/tombee/maestro/pkg/workflow"
	"github.com/tombee/maestro/schemas"
)

// NewRunCommand creates the run command group
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage workflow runs",
		Long:  `Create, inspect, and advance workflow runs stored under the maestro home.`,
	}

	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newReadCommand())
	cmd.AddCommand(newUpdateCommand())
	cmd.AddCommand(newGetCurrentStepCommand())
	cmd.AddCommand(newStepCommand())

	return cmd
}

func store() *runstore.Store {
	return runstore.NewStore(shared.RunsDir())
}

func newCreateCommand() *cobra.Command {
	var runID string
	var workflowID string
	var selected string
	var session string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new run",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := store()

			if runID == "" {
				var err error
				runID, err = runstore.NewID("run", func(id string) bool {
					_, readErr := s.ReadRun(id)
					return readErr == nil
				})
				if err != nil {
					return err
				}
			}

			record, err := s.CreateRun(runID, runstore.CreateOptions{
				WorkflowID:            workflowID,
				SelectedWorkflow:      selected,
				OrchestratorSessionID: session,
			})
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd, record)
			}
			cmd.Println(shared.RenderOK(fmt.Sprintf("created run %s", record.RunID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run id (generated when omitted)")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "Workflow id for the run")
	cmd.Flags().StringVar(&selected, "selected-workflow", "", "Selected workflow variant")
	cmd.Flags().StringVar(&session, "session", "", "Orchestrator session id")

	return cmd
}

func newReadCommand() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print a run record",
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := store().ReadRun(runID)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd, record)
			}
			renderRecord(cmd, record)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run id")
	cmd.MarkFlagRequired("run-id")

	return cmd
}

func renderRecord(cmd *cobra.Command, record *runstore.Record) {
	cmd.Printf("%s %s\n", shared.RenderLabel("run:"), shared.Bold.Render(record.RunID))
	cmd.Printf("%s %s\n", shared.RenderLabel("status:"), shared.RenderRunStatus(string(record.Status)))
	cmd.Printf("%s %d\n", shared.RenderLabel("step:"), record.CurrentStep)
	if record.WorkflowID != "" {
		cmd.Printf("%s %s\n", shared.RenderLabel("workflow:"), record.WorkflowID)
	}
	if record.Owners.CurrentAgent != "" {
		cmd.Printf("%s %s\n", shared.RenderLabel("agent:"), record.Owners.CurrentAgent)
	}
	for _, task := range record.TaskQueue {
		cmd.Printf("  %s [%s] %s\n", shared.SymbolInfo, task.Status, task.Description)
	}
}

func newUpdateCommand() *cobra.Command {
	var runID string
	var field string
	var value string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Patch a single run field",
		Long: `Patch a single field of a run record. Supported fields: status,
current_step, workflow_id, selected_workflow, current_agent, and
metadata.<key>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := patchFor(field, value)
			if err != nil {
				return err
			}

			record, err := store().UpdateRun(runID, patch)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd, record)
			}
			cmd.Println(shared.RenderOK(fmt.Sprintf("updated %s on run %s", field, runID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run id")
	cmd.Flags().StringVar(&field, "field", "", "Field to patch")
	cmd.Flags().StringVar(&value, "value", "", "New value")
	cmd.MarkFlagRequired("run-id")
	cmd.MarkFlagRequired("field")
	cmd.MarkFlagRequired("value")

	return cmd
}

// patchFor builds a single-field patch from --field/--value.
func patchFor(field, value string) (runstore.Patch, error) {
	switch {
	case field == "status":
		status := runstore.Status(value)
		return runstore.Patch{Status: &status}, nil
	case field == "current_step":
		step, err := strconv.Atoi(value)
		if err != nil || step < 0 {
			return runstore.Patch{}, &errors.ValidationError{
				Field:   "value",
				Message: fmt.Sprintf("current_step must be a non-negative integer, got %q", value),
			}
		}
		return runstore.Patch{CurrentStep: &step}, nil
	case field == "workflow_id":
		return runstore.Patch{WorkflowID: &value}, nil
	case field == "selected_workflow":
		return runstore.Patch{SelectedWorkflow: &value}, nil
	case field == "current_agent":
		return runstore.Patch{CurrentAgent: &value}, nil
	case strings.HasPrefix(field, "metadata."):
		key := strings.TrimPrefix(field, "metadata.")
		if key == "" {
			return runstore.Patch{}, &errors.ValidationError{
				Field:   "field",
				Message: "metadata key is empty",
			}
		}
		return runstore.Patch{Metadata: map[string]any{key: value}}, nil
	default:
		return runstore.Patch{}, &errors.ValidationError{
			Field:      "field",
			Message:    fmt.Sprintf("unknown field %q", field),
			Suggestion: "use status, current_step, workflow_id, selected_workflow, current_agent, or metadata.<key>",
		}
	}
}

func newGetCurrentStepCommand() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "get-current-step",
		Short: "Print a run's current step",
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := store().ReadRun(runID)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd, map[string]any{
					"run_id":       record.RunID,
					"current_step": record.CurrentStep,
				})
			}
			cmd.Println(record.CurrentStep)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run id")
	cmd.MarkFlagRequired("run-id")

	return cmd
}

func newStepCommand() *cobra.Command {
	var runID string
	var workflowPath string
	var executors []string
	var trace bool

	cmd := &cobra.Command{
		Use:   "step",
		Short: "Advance a run by one workflow step",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := workflow.Load(workflowPath)
			if err != nil {
				return err
			}

			var adapters []executor.Adapter
			for _, name := range executors {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				adapters = append(adapters, executor.NewCommandAdapter(name, name))
			}

			schemaDir := filepath.Join(shared.Home(), "schemas")
			if err := schemas.Install(schemaDir); err != nil {
				return err
			}

			builder := agent.NewBuilder(shared.Home())
			stepper := workflow.New(store(), builder, adapters,
				workflow.WithValidator(schema.NewValidator(schemaDir)),
				workflow.WithRecorder(patterns.New(filepath.Join(shared.Home(), "patterns"))))

			record, err := store().ReadRun(runID)
			if err != nil {
				return err
			}

			version, _, _ := shared.GetVersion()
			tracer, err := tracing.NewProvider("maestro", version, traceWriter(trace))
			if err != nil {
				return err
			}
			defer tracer.Shutdown(cmd.Context())

			ctx, span := tracer.StartStep(cmd.Context(), runID, record.CurrentStep, record.Owners.CurrentAgent)
			outcome, err := stepper.Step(ctx, runID, def)
			tracing.End(span, err)
			if err != nil {
				return err
			}

			recordSession(ctx, runID, outcome)

			if shared.GetJSON() {
				if emitErr := shared.EmitJSON(cmd, outcome); emitErr != nil {
					return emitErr
				}
			} else {
				renderOutcome(cmd, outcome)
			}

			if outcome.RunStatus == runstore.StatusFailed {
				return shared.NewFailureError(fmt.Sprintf("run %s failed at step %d", runID, outcome.Step), nil)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run id")
	cmd.Flags().StringVar(&workflowPath, "workflow", "", "Path to the workflow definition")
	cmd.Flags().StringSliceVar(&executors, "executors", []string{"claude", "codex"}, "Executor commands probed in order")
	cmd.Flags().BoolVar(&trace, "trace", false, "Emit step spans to stderr")
	cmd.MarkFlagRequired("run-id")
	cmd.MarkFlagRequired("workflow")

	return cmd
}

func renderOutcome(cmd *cobra.Command, outcome *workflow.Outcome) {
	switch {
	case outcome.Skipped:
		cmd.Println(shared.RenderWarn(fmt.Sprintf("step %d skipped (condition false)", outcome.Step)))
	case outcome.AwaitingApproval:
		cmd.Println(shared.RenderWarn(fmt.Sprintf("step %d awaiting approval", outcome.Step)))
	case outcome.RunStatus == runstore.StatusFailed:
		cmd.Println(shared.RenderError(fmt.Sprintf("step %d failed", outcome.Step)))
	default:
		cmd.Println(shared.RenderOK(fmt.Sprintf("step %d completed by %s", outcome.Step, outcome.Agent)))
		for _, artifact := range outcome.Artifacts {
			cmd.Printf("  %s %s\n", shared.SymbolInfo, artifact)
		}
	}
	cmd.Printf("%s %s\n", shared.RenderLabel("run status:"), shared.RenderRunStatus(string(outcome.RunStatus)))
}

// traceWriter returns stderr when tracing is requested via --trace or
// MAESTRO_TRACE, otherwise nil so step spans are no-ops.
func traceWriter(enabled bool) io.Writer {
	if enabled || os.Getenv("MAESTRO_TRACE") != "" {
		return os.Stderr
	}
	return nil
}

// recordSession attributes the step's token usage and compliance outcome to
// a session row. Accounting failures never fail the step.
func recordSession(ctx context.Context, runID string, outcome *workflow.Outcome) {
	if outcome.Skipped || outcome.Result == nil {
		return
	}

	db, err := session.Open(filepath.Join(shared.Home(), "sessions.db"))
	if err != nil {
		slog.Warn("session accounting unavailable", "error", err)
		return
	}
	defer db.Close()

	sess, err := db.Start(ctx, runID, outcome.Agent)
	if err != nil {
		slog.Warn("session start failed", "run_id", runID, "error", err)
		return
	}

	usage := outcome.Result.TokenUsage
	if usage.Used > 0 {
		if err := db.RecordUsage(ctx, sess.ID, session.Usage{
			Model:       usage.Source,
			InputTokens: int64(usage.Used),
		}); err != nil {
			slog.Warn("usage accounting failed", "session_id", sess.ID, "error", err)
		}
	}

	passed := outcome.RunStatus != runstore.StatusFailed
	if err := db.RecordCompliance(ctx, sess.ID, passed); err != nil {
		slog.Warn("compliance accounting failed", "session_id", sess.ID, "error", err)
	}

	if _, err := db.End(ctx, sess.ID); err != nil {
		slog.Warn("session end failed", "session_id", sess.ID, "error", err)
	}
}

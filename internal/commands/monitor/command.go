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

// Package monitor implements the monitor command: run progress, system
// health, and a watch mode that re-renders on run.json writes.
package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tombee/maestro/internal/commands/shared"
	"github.com/tombee/maestro/internal/lifecycle"
	"github.com/tombee/maestro/pkg/health"
	"github.com/tombee/maestro/pkg/patterns"
	runstore "github.com/tombee/maestro/pkg/run"
)

// NewMonitorCommand creates the monitor command
func NewMonitorCommand() *cobra.Command {
	var runID string
	var watch bool
	var status bool
	var list bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Inspect run progress and system health",
		Long: `Inspect a single run (--run-id), the overall health report
(--status), or every run (--list). With --watch the run view re-renders
whenever its run.json changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := runstore.NewStore(shared.RunsDir())
			learner := patterns.New(filepath.Join(shared.Home(), "patterns"))
			monitor := health.New(store, learner)

			switch {
			case status:
				return runStatus(cmd, monitor)
			case list:
				return runList(cmd, monitor)
			case runID != "":
				if watch {
					return runWatch(cmd, store, learner, monitor, runID)
				}
				return runSummary(cmd, monitor, runID)
			default:
				return runStatus(cmd, monitor)
			}
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Inspect a single run")
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-render when the run changes")
	cmd.Flags().BoolVar(&status, "status", false, "Print the overall health report")
	cmd.Flags().BoolVar(&list, "list", false, "List all runs")

	return cmd
}

func runStatus(cmd *cobra.Command, monitor *health.Monitor) error {
	report, err := monitor.Report()
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		if err := shared.EmitJSON(cmd, report); err != nil {
			return err
		}
	} else {
		renderReport(cmd, report)
	}

	if report.Status == health.StatusCritical || report.StalledRuns > 0 {
		return shared.NewFailureError(fmt.Sprintf("system %s with %d stalled runs", report.Status, report.StalledRuns), nil)
	}
	return nil
}

func renderReport(cmd *cobra.Command, report *health.Report) {
	cmd.Println(shared.Header.Render("System health"))
	healthy := report.Status == health.StatusHealthy
	cmd.Printf("%s %s  %s %.0f/100\n",
		shared.RenderLabel("status:"), shared.RenderStatus(healthy, strings.ToUpper(report.Status)),
		shared.RenderLabel("score:"), report.Score)
	cmd.Printf("%s %d total, %d active, %d stalled, %d completed, %d failed\n",
		shared.RenderLabel("runs:"),
		report.TotalRuns, report.ActiveRuns, report.StalledRuns, report.CompletedRuns, report.FailedRuns)
	cmd.Printf("%s %.0f%% routing, %.0f%% success, %.0f%% coverage\n",
		shared.RenderLabel("patterns:"),
		report.RoutingAccuracy*100, report.SuccessRate*100, report.PatternCoverage*100)

	if len(report.AgentUtilization) > 0 {
		cmd.Println(shared.Header.Render("Agent utilization"))
		agents := make([]string, 0, len(report.AgentUtilization))
		for agent := range report.AgentUtilization {
			agents = append(agents, agent)
		}
		sort.Strings(agents)
		for _, agent := range agents {
			cmd.Printf("  %-24s %.0f%%\n", agent, report.AgentUtilization[agent]*100)
		}
	}
}

func runList(cmd *cobra.Command, monitor *health.Monitor) error {
	report, err := monitor.Report()
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd, report.Runs)
	}

	if len(report.Runs) == 0 {
		cmd.Println(shared.Muted.Render("no runs"))
		return nil
	}
	for _, summary := range report.Runs {
		line := fmt.Sprintf("%-40s step %-3d %s", summary.RunID, summary.CurrentStep, shared.RenderRunStatus(string(summary.Status)))
		if summary.Stalled {
			line += " " + shared.StatusWarn.Render("(stalled)")
		}
		cmd.Println(line)
	}
	return nil
}

func runSummary(cmd *cobra.Command, monitor *health.Monitor, runID string) error {
	summary, err := monitor.Summarize(runID)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		if err := shared.EmitJSON(cmd, summary); err != nil {
			return err
		}
	} else {
		renderSummary(cmd, summary)
	}

	if summary.Stalled {
		return shared.NewFailureError(fmt.Sprintf("run %s is stalled", runID), nil)
	}
	return nil
}

func renderSummary(cmd *cobra.Command, summary *health.RunSummary) {
	cmd.Printf("%s %s\n", shared.RenderLabel("run:"), shared.Bold.Render(summary.RunID))
	cmd.Printf("%s %s\n", shared.RenderLabel("status:"), shared.RenderRunStatus(string(summary.Status)))
	cmd.Printf("%s %d\n", shared.RenderLabel("step:"), summary.CurrentStep)
	cmd.Printf("%s %s\n", shared.RenderLabel("updated:"), summary.UpdatedAt.Format("2006-01-02 15:04:05"))
	if summary.Stalled {
		cmd.Println(shared.RenderWarn("run is stalled"))
	}
}

// runWatch re-renders the run summary whenever its run.json is written,
// until the context is cancelled or the run reaches a terminal status. A
// memory monitor sheds the store and pattern caches if a long watch grows
// the heap.
func runWatch(cmd *cobra.Command, store *runstore.Store, learner *patterns.Learner, monitor *health.Monitor, runID string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	memory := lifecycle.NewMemoryMonitor(0, []lifecycle.Evictor{store, learner})
	go memory.Run(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(store.RunDir(runID)); err != nil {
		return fmt.Errorf("watch run directory: %w", err)
	}

	if err := runSummary(cmd, monitor, runID); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != "run.json" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := runSummary(cmd, monitor, runID); err != nil {
				return err
			}
			record, err := store.ReadRun(runID)
			if err == nil && record.Status.Terminal() {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch run directory: %w", err)
		}
	}
}

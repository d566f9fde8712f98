// Package run provides the canonical, crash-safe persistence of workflow
// execution state: the run record, the per-run artifact registry, and the
// derived project database. All mutations for a given run go through a
// per-run filesystem lock and atomic temp-file renames.
package run

import "time"

// Status is the run-level lifecycle state.
type Status string

const (
	// StatusPending indicates the run was created but no step has started.
	StatusPending Status = "pending"
	// StatusInProgress indicates the stepper is advancing the run.
	StatusInProgress Status = "in_progress"
	// StatusAwaitingApproval indicates the run is paused on an approval gate.
	StatusAwaitingApproval Status = "awaiting_approval"
	// StatusCompleted indicates the final step completed.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the run failed permanently.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskStatus is the lifecycle state of one task-queue entry.
type TaskStatus string

const (
	// TaskPending indicates the task has not started.
	TaskPending TaskStatus = "pending"
	// TaskInProgress indicates the task is executing.
	TaskInProgress TaskStatus = "in_progress"
	// TaskCompleted indicates the task finished successfully.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed indicates the task failed.
	TaskFailed TaskStatus = "failed"
)

// Task is one entry in the run's ordered task queue.
type Task struct {
	TaskID      string     `json:"task_id"`
	Description string     `json:"description"`
	Agent       string     `json:"agent"`
	Step        int        `json:"step"`
	Status      TaskStatus `json:"status"`
}

// Owners identifies the session and agents responsible for the run.
type Owners struct {
	OrchestratorSessionID string   `json:"orchestrator_session_id,omitempty"`
	CurrentAgent          string   `json:"current_agent,omitempty"`
	AssignedAgents        []string `json:"assigned_agents,omitempty"`
}

// Timestamps holds the run's lifecycle timestamps.
type Timestamps struct {
	StartedAt           *time.Time `json:"started_at,omitempty"`
	LastStepCompletedAt *time.Time `json:"last_step_completed_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// Record is the canonical run record, one per workflow execution.
//
// Invariants maintained by the store:
//   - updated_at >= created_at
//   - status == completed implies timestamps.completed_at is set
//   - current_step is monotonically non-decreasing
type Record struct {
	RunID            string `json:"run_id"`
	WorkflowID       string `json:"workflow_id,omitempty"`
	SelectedWorkflow string `json:"selected_workflow,omitempty"`
	CurrentStep      int    `json:"current_step"`
	Status           Status `json:"status"`

	TaskQueue  []Task     `json:"task_queue"`
	Owners     Owners     `json:"owners"`
	Timestamps Timestamps `json:"timestamps"`

	// Metadata is a free-form map for the user request, router handoff,
	// approvals, blockers, and next steps.
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone creates a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r

	if r.TaskQueue != nil {
		clone.TaskQueue = make([]Task, len(r.TaskQueue))
		copy(clone.TaskQueue, r.TaskQueue)
	}
	if r.Owners.AssignedAgents != nil {
		clone.Owners.AssignedAgents = make([]string, len(r.Owners.AssignedAgents))
		copy(clone.Owners.AssignedAgents, r.Owners.AssignedAgents)
	}
	if r.Timestamps.StartedAt != nil {
		startedAt := *r.Timestamps.StartedAt
		clone.Timestamps.StartedAt = &startedAt
	}
	if r.Timestamps.LastStepCompletedAt != nil {
		lastStep := *r.Timestamps.LastStepCompletedAt
		clone.Timestamps.LastStepCompletedAt = &lastStep
	}
	if r.Timestamps.CompletedAt != nil {
		completedAt := *r.Timestamps.CompletedAt
		clone.Timestamps.CompletedAt = &completedAt
	}
	if r.Metadata != nil {
		clone.Metadata = deepMergeMaps(nil, r.Metadata)
	}

	return &clone
}

// deepMergeMaps merges patch into base, recursing into nested maps.
// A nil base yields a deep copy of patch. Non-map patch values replace the
// base value.
func deepMergeMaps(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		if patchMap, ok := v.(map[string]any); ok {
			if baseMap, ok := merged[k].(map[string]any); ok {
				merged[k] = deepMergeMaps(baseMap, patchMap)
				continue
			}
			merged[k] = deepMergeMaps(nil, patchMap)
			continue
		}
		merged[k] = v
	}
	return merged
}

// Package iteration persists per-workflow iteration state: how many fix
// passes have run, per-component ratings, and whether the target rating has
// been reached.
package iteration

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/run"
)

// Iteration statuses.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Completion statuses.
const (
	CompletionIncomplete = "incomplete"
	CompletionComplete   = "complete"
)

// Rating is one component's current score.
type Rating struct {
	Score float64 `json:"score"`
}

// Fix is one entry of the fix history.
type Fix struct {
	Component   string    `json:"component"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// State is the persisted iteration state for one workflow id.
type State struct {
	WorkflowID       string            `json:"workflow_id"`
	IterationCount   int               `json:"iteration_count"`
	TargetRating     float64           `json:"target_rating"`
	Status           string            `json:"status"`
	ComponentRatings map[string]Rating `json:"component_ratings"`
	FixHistory       []Fix             `json:"fix_history"`
	CompletionStatus string            `json:"completion_status"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Complete reports whether every rated component meets the target. A state
// with no ratings is never complete.
func (s *State) Complete() bool {
	if len(s.ComponentRatings) == 0 {
		return false
	}
	for _, rating := range s.ComponentRatings {
		if rating.Score < s.TargetRating {
			return false
		}
	}
	return true
}

// Manager persists iteration states as one JSON file per workflow id.
type Manager struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager rooted at dir.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:    dir,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init creates a fresh iteration state. Re-initialising an existing
// workflow id is an error.
func (m *Manager) Init(workflowID string, target float64) (*State, error) {
	if err := run.ValidateID(workflowID); err != nil {
		return nil, err
	}
	if target <= 0 {
		return nil, &errors.ValidationError{
			Field:      "target_rating",
			Message:    "target rating must be positive",
			Suggestion: "use a rating scale such as 1-10",
		}
	}
	if _, err := os.Stat(m.path(workflowID)); err == nil {
		return nil, &errors.ValidationError{
			Field:   "workflow_id",
			Message: fmt.Sprintf("iteration state for %q already exists", workflowID),
		}
	}

	now := m.now().UTC()
	state := &State{
		WorkflowID:       workflowID,
		TargetRating:     target,
		Status:           StatusActive,
		ComponentRatings: make(map[string]Rating),
		CompletionStatus: CompletionIncomplete,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.write(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Get loads the iteration state for a workflow id.
func (m *Manager) Get(workflowID string) (*State, error) {
	if err := run.ValidateID(workflowID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.path(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "iteration", ID: workflowID}
		}
		return nil, fmt.Errorf("read iteration state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &errors.CorruptError{Path: m.path(workflowID), Cause: err}
	}
	if state.ComponentRatings == nil {
		state.ComponentRatings = make(map[string]Rating)
	}
	return &state, nil
}

// Bump increments the iteration count.
func (m *Manager) Bump(workflowID string) (*State, error) {
	return m.update(workflowID, func(state *State) error {
		state.IterationCount++
		return nil
	})
}

// SetStatus updates the iteration status.
func (m *Manager) SetStatus(workflowID, status string) (*State, error) {
	switch status {
	case StatusActive, StatusPaused, StatusCompleted:
	default:
		return nil, &errors.ValidationError{
			Field:      "status",
			Message:    fmt.Sprintf("unknown iteration status %q", status),
			Suggestion: "use active, paused, or completed",
		}
	}
	return m.update(workflowID, func(state *State) error {
		state.Status = status
		return nil
	})
}

// SetRating records a component's score.
func (m *Manager) SetRating(workflowID, component string, score float64) (*State, error) {
	if component == "" {
		return nil, &errors.ValidationError{Field: "component", Message: "component name is required"}
	}
	return m.update(workflowID, func(state *State) error {
		state.ComponentRatings[component] = Rating{Score: score}
		return nil
	})
}

// AddFix appends a fix-history entry.
func (m *Manager) AddFix(workflowID, component, description string) (*State, error) {
	return m.update(workflowID, func(state *State) error {
		state.FixHistory = append(state.FixHistory, Fix{
			Component:   component,
			Description: description,
			Timestamp:   m.now().UTC(),
		})
		return nil
	})
}

// MarkComplete finishes the iteration once all ratings meet the target.
func (m *Manager) MarkComplete(workflowID string) (*State, error) {
	return m.update(workflowID, func(state *State) error {
		if !state.Complete() {
			return &errors.ValidationError{
				Field:   "component_ratings",
				Message: fmt.Sprintf("not all components meet the target rating %.1f", state.TargetRating),
			}
		}
		state.Status = StatusCompleted
		state.CompletionStatus = CompletionComplete
		return nil
	})
}

func (m *Manager) update(workflowID string, mutate func(*State) error) (*State, error) {
	state, err := m.Get(workflowID)
	if err != nil {
		return nil, err
	}
	if err := mutate(state); err != nil {
		return nil, err
	}
	state.UpdatedAt = m.now().UTC()
	if err := m.write(state); err != nil {
		return nil, err
	}
	return state, nil
}

func (m *Manager) path(workflowID string) string {
	return filepath.Join(m.dir, workflowID+".json")
}

// write persists the state via a temp file and rename.
func (m *Manager) write(state *State) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create iteration dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode iteration state: %w", err)
	}

	tmp, err := os.CreateTemp(m.dir, state.WorkflowID+".tmp-*")
	if err != nil {
		return fmt.Errorf("write iteration state: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write iteration state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write iteration state: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path(state.WorkflowID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write iteration state: %w", err)
	}
	return nil
}

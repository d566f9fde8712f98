// Package workflow defines YAML workflow definitions and the stepper that
// advances runs through them one step at a time.
//
// Definitions follow a concise YAML format: a name, an optional config map
// exposed to step conditions as config.*, and an ordered steps array. The
// version field is optional and defaults to "1.0".
package workflow

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/maestro/pkg/artifact"
	"github.com/tombee/maestro/pkg/errors"
)

// Definition represents a YAML-based workflow definition.
type Definition struct {
	// Name is the workflow identifier
	Name string `yaml:"name" json:"name"`

	// Description provides human-readable context about the workflow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Version tracks the definition schema version (optional, defaults to "1.0")
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Config holds workflow configuration values, visible to step
	// conditions as config.<field>
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	// Steps are the executable units of the workflow
	Steps []StepDefinition `yaml:"steps" json:"steps"`
}

// StepDefinition represents a single step in a workflow.
type StepDefinition struct {
	// ID is the unique step identifier within this workflow
	ID string `yaml:"id" json:"id"`

	// Agent is the agent role that executes this step
	Agent string `yaml:"agent" json:"agent"`

	// Task is the instruction handed to the agent. When empty, the run's
	// original request is used.
	Task string `yaml:"task,omitempty" json:"task,omitempty"`

	// Condition gates the step; an empty or true condition executes it,
	// false skips it with a recorded no-op
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// RequiresApproval pauses the run on this step until an external
	// acknowledgement arrives
	RequiresApproval bool `yaml:"requires_approval,omitempty" json:"requires_approval,omitempty"`

	// Idempotency is the artifact registration policy (overwrite, version,
	// skip); empty means overwrite
	Idempotency artifact.Policy `yaml:"idempotency,omitempty" json:"idempotency,omitempty"`

	// Injections name the constraint files added to the agent's context
	Injections []string `yaml:"injections,omitempty" json:"injections,omitempty"`

	// Schema names the JSON Schema that written artifacts must satisfy
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty"`

	// Timeout sets the maximum execution time for this step (in seconds)
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retry configures retry behavior for this step
	Retry *RetryDefinition `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// RetryDefinition configures retry behavior for a step.
type RetryDefinition struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BackoffBase is the base duration for exponential backoff (in seconds)
	BackoffBase int `yaml:"backoff_base" json:"backoff_base"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`
}

// Load reads and validates a workflow definition from a YAML file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "workflow", ID: path}
		}
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a workflow definition from YAML bytes.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errors.ValidationError{
			Field:   "workflow",
			Message: fmt.Sprintf("invalid YAML: %v", err),
		}
	}
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) applyDefaults() {
	if d.Version == "" {
		d.Version = "1.0"
	}
	for i := range d.Steps {
		if d.Steps[i].ID == "" {
			d.Steps[i].ID = fmt.Sprintf("step-%d", i+1)
		}
	}
}

// Validate checks structural invariants of the definition.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "workflow name is required",
			Suggestion: "add a name field to the workflow definition",
		}
	}
	if len(d.Steps) == 0 {
		return &errors.ValidationError{
			Field:   "steps",
			Message: "workflow requires at least one step",
		}
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if step.Agent == "" {
			return &errors.ValidationError{
				Field:   field + ".agent",
				Message: fmt.Sprintf("step %q has no agent", step.ID),
			}
		}
		if _, dup := seen[step.ID]; dup {
			return &errors.ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate step id %q", step.ID),
			}
		}
		seen[step.ID] = struct{}{}

		switch step.Idempotency {
		case "", artifact.PolicyOverwrite, artifact.PolicyVersion, artifact.PolicySkip:
		default:
			return &errors.ValidationError{
				Field:   field + ".idempotency",
				Message: fmt.Sprintf("unknown idempotency policy %q", step.Idempotency),
			}
		}
		if step.Retry != nil && step.Retry.MaxAttempts < 1 {
			return &errors.ValidationError{
				Field:   field + ".retry.max_attempts",
				Message: "max_attempts must be at least 1",
			}
		}
	}
	return nil
}

// attempts returns the total attempt count for a step.
func (s StepDefinition) attempts() int {
	if s.Retry == nil || s.Retry.MaxAttempts < 1 {
		return 1
	}
	return s.Retry.MaxAttempts
}

// backoff returns the delay before the given retry (attempt is 1-based and
// counts completed attempts).
func (s StepDefinition) backoff(attempt int) time.Duration {
	if s.Retry == nil {
		return 0
	}
	base := time.Duration(s.Retry.BackoffBase) * time.Second
	if base <= 0 {
		base = time.Second
	}
	multiplier := s.Retry.BackoffMultiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	return time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
}

// deadline returns the step's execution timeout.
func (s StepDefinition) deadline(fallback time.Duration) time.Duration {
	if s.Timeout > 0 {
		return time.Duration(s.Timeout) * time.Second
	}
	return fallback
}

package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/errors"
)

const sampleWorkflow = `
name: feature-development
description: plan, build, review
config:
  auto_fix: true
steps:
  - id: plan
    agent: architect
    idempotency: version
  - id: build
    agent: developer
    condition: config.auto_fix
    retry:
      max_attempts: 3
      backoff_base: 2
  - agent: code-reviewer
    requires_approval: true
`

func TestParseAppliesDefaults(t *testing.T) {
	def, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)

	assert.Equal(t, "feature-development", def.Name)
	assert.Equal(t, "1.0", def.Version)
	require.Len(t, def.Steps, 3)
	assert.Equal(t, "plan", def.Steps[0].ID)
	assert.Equal(t, "step-3", def.Steps[2].ID)
	assert.Equal(t, true, def.Config["auto_fix"])
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleWorkflow), 0o644))

	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "feature-development", def.Name)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.IsNotFound(err))
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing name", yaml: "steps:\n  - id: a\n    agent: developer\n"},
		{name: "no steps", yaml: "name: empty\n"},
		{name: "step without agent", yaml: "name: w\nsteps:\n  - id: a\n"},
		{name: "duplicate step id", yaml: "name: w\nsteps:\n  - id: a\n    agent: x\n  - id: a\n    agent: y\n"},
		{name: "unknown idempotency", yaml: "name: w\nsteps:\n  - id: a\n    agent: x\n    idempotency: merge\n"},
		{name: "zero retry attempts", yaml: "name: w\nsteps:\n  - id: a\n    agent: x\n    retry:\n      max_attempts: 0\n"},
		{name: "not yaml", yaml: "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestStepRetrySchedule(t *testing.T) {
	step := StepDefinition{Retry: &RetryDefinition{MaxAttempts: 4, BackoffBase: 2}}

	assert.Equal(t, 4, step.attempts())
	assert.Equal(t, 2*time.Second, step.backoff(1))
	assert.Equal(t, 4*time.Second, step.backoff(2))
	assert.Equal(t, 8*time.Second, step.backoff(3))

	// No retry config: single attempt, no delay.
	bare := StepDefinition{}
	assert.Equal(t, 1, bare.attempts())
	assert.Equal(t, time.Duration(0), bare.backoff(1))
}

func TestStepDeadline(t *testing.T) {
	assert.Equal(t, 30*time.Second, StepDefinition{Timeout: 30}.deadline(time.Minute))
	assert.Equal(t, time.Minute, StepDefinition{}.deadline(time.Minute))
}

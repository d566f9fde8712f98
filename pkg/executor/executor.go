// Package executor defines the adapter contract for invoking agents and the
// deterministic probe that selects the first available adapter.
package executor

import (
	"context"
	"time"

	"github.com/tombee/maestro/pkg/agent"
	"github.com/tombee/maestro/pkg/errors"
)

// Status is the adapter-reported outcome of one invocation.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusTimeout          Status = "timeout"
	StatusAwaitingApproval Status = "awaiting_approval"
)

// DefaultTimeout bounds an invocation when the step declares no deadline.
const DefaultTimeout = 5 * time.Minute

// TokenUsage reports the tokens an invocation consumed and how trustworthy
// the number is.
type TokenUsage struct {
	Used       int    `json:"used"`
	Limit      int    `json:"limit"`
	Source     string `json:"source"`     // api, session, estimate, heuristic
	Confidence string `json:"confidence"` // high, medium, low
}

// Request is the input to one invocation.
type Request struct {
	Agent        string          `json:"agent"`
	SystemPrompt string          `json:"system_prompt"`
	Messages     []agent.Message `json:"messages,omitempty"`
	Tools        []string        `json:"tools,omitempty"`
	RunID        string          `json:"run_id"`
	Step         int             `json:"step"`
}

// Result is the outcome of one invocation. ArtifactsWritten lists the
// filesystem paths the agent claims to have produced; the stepper verifies
// them before trusting a completed status.
type Result struct {
	Status           Status     `json:"status"`
	ArtifactsWritten []string   `json:"artifacts_written,omitempty"`
	GatePath         string     `json:"gate_path,omitempty"`
	ReasoningPath    string     `json:"reasoning_path,omitempty"`
	TokenUsage       TokenUsage `json:"token_usage"`
	Stdout           string     `json:"stdout,omitempty"`
	Stderr           string     `json:"stderr,omitempty"`
	DurationMS       int64      `json:"duration_ms"`
	Error            string     `json:"error,omitempty"`
}

// Adapter is a single execution capability.
type Adapter interface {
	// Name identifies the adapter in logs and probe errors.
	Name() string

	// Available reports whether the adapter can execute right now.
	Available() bool

	// Execute runs one agent invocation. The context carries the deadline.
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Probe returns the first available adapter, probing in the given order.
// No available adapter is a fatal NoExecutorError.
func Probe(adapters []Adapter) (Adapter, error) {
	probed := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		probed = append(probed, adapter.Name())
		if adapter.Available() {
			return adapter, nil
		}
	}
	return nil, &errors.NoExecutorError{Probed: probed}
}

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// CommandAdapter invokes an external agent binary. The request is written to
// the binary's stdin as JSON and the result is read back from stdout, also
// as JSON. A non-JSON stdout or a non-zero exit is a failed step, not an
// adapter error.
type CommandAdapter struct {
	name    string
	command string
	args    []string
	logger  *slog.Logger
}

// NewCommandAdapter creates an adapter around an external command.
func NewCommandAdapter(name, command string, args ...string) *CommandAdapter {
	return &CommandAdapter{
		name:    name,
		command: command,
		args:    args,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger.
func (a *CommandAdapter) WithLogger(logger *slog.Logger) *CommandAdapter {
	a.logger = logger
	return a
}

// Name identifies the adapter.
func (a *CommandAdapter) Name() string { return a.name }

// Available reports whether the command resolves on PATH.
func (a *CommandAdapter) Available() bool {
	_, err := exec.LookPath(a.command)
	return err == nil
}

// Execute runs the command once. A context deadline produces a timeout
// result rather than an error so retries stay in the stepper's hands.
func (a *CommandAdapter) Execute(ctx context.Context, req *Request) (*Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode executor request: %w", err)
	}

	cmd := exec.CommandContext(ctx, a.command, a.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start).Milliseconds()

	if ctx.Err() == context.DeadlineExceeded {
		return &Result{
			Status:     StatusTimeout,
			Stdout:     stdout.String(),
			Stderr:     stderr.String(),
			DurationMS: duration,
			Error:      "executor deadline exceeded",
			TokenUsage: TokenUsage{Source: "estimate", Confidence: "low"},
		}, nil
	}

	if runErr != nil {
		a.logger.Warn("executor command failed", "adapter", a.name, "error", runErr)
		return &Result{
			Status:     StatusFailed,
			Stdout:     stdout.String(),
			Stderr:     stderr.String(),
			DurationMS: duration,
			Error:      runErr.Error(),
			TokenUsage: TokenUsage{Source: "estimate", Confidence: "low"},
		}, nil
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return &Result{
			Status:     StatusFailed,
			Stdout:     stdout.String(),
			Stderr:     stderr.String(),
			DurationMS: duration,
			Error:      fmt.Sprintf("executor produced invalid result: %v", err),
			TokenUsage: TokenUsage{Source: "estimate", Confidence: "low"},
		}, nil
	}

	if result.DurationMS == 0 {
		result.DurationMS = duration
	}
	if result.TokenUsage.Source == "" {
		result.TokenUsage = TokenUsage{Source: "estimate", Confidence: "low"}
	}
	if result.Stdout == "" {
		result.Stdout = stdout.String()
	}
	if result.Stderr == "" {
		result.Stderr = stderr.String()
	}
	return &result, nil
}

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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid arguments, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested run, artifact, or state document does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "run", "artifact", "iteration state")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// CorruptError represents an on-disk document that could not be decoded.
// When raised during a recovery read, MovedTo holds the forensic path the
// damaged file was renamed to.
type CorruptError struct {
	// Path is the file that failed to decode
	Path string

	// MovedTo is the move-aside path, empty if the file was left in place
	MovedTo string

	// Cause is the underlying decode error
	Cause error
}

// Error implements the error interface.
func (e *CorruptError) Error() string {
	if e.MovedTo != "" {
		return fmt.Sprintf("corrupt state file %s (moved to %s)", e.Path, e.MovedTo)
	}
	return fmt.Sprintf("corrupt state file %s", e.Path)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CorruptError) Unwrap() error {
	return e.Cause
}

// LockTimeoutError is returned when the per-run lock could not be acquired
// before the deadline.
type LockTimeoutError struct {
	// RunID identifies the contended run
	RunID string

	// Holder is the PID recorded in the lock file, 0 if unknown
	Holder int

	// Waited is how long acquisition was attempted
	Waited time.Duration
}

// Error implements the error interface.
func (e *LockTimeoutError) Error() string {
	if e.Holder > 0 {
		return fmt.Sprintf("timed out after %v acquiring lock for run %s (held by pid %d)", e.Waited, e.RunID, e.Holder)
	}
	return fmt.Sprintf("timed out after %v acquiring lock for run %s", e.Waited, e.RunID)
}

// StateTransitionError is returned when a run is asked to move between
// incompatible statuses (e.g. completed to in_progress).
type StateTransitionError struct {
	// RunID identifies the run
	RunID string

	// From is the current status
	From string

	// To is the rejected target status
	To string
}

// Error implements the error interface.
func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("illegal state transition for run %s: %s -> %s", e.RunID, e.From, e.To)
}

// NoExecutorError is returned when no executor adapter reports available.
// This is fatal for the run.
type NoExecutorError struct {
	// Probed lists the adapter names that were probed, in order
	Probed []string
}

// Error implements the error interface.
func (e *NoExecutorError) Error() string {
	if len(e.Probed) == 0 {
		return "no executor adapter available"
	}
	return fmt.Sprintf("no executor adapter available (probed %d)", len(e.Probed))
}

// ExecutorError represents a failed or timed-out agent invocation.
type ExecutorError struct {
	// Agent is the agent that was being invoked
	Agent string

	// Status is the adapter-reported status (failed, timeout)
	Status string

	// Attempts is the number of attempts made
	Attempts int

	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface.
func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor %s for agent %s after %d attempt(s)", e.Status, e.Agent, e.Attempts)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExecutorError) Unwrap() error {
	return e.Cause
}

// SchemaValidationError represents an artifact that failed schema validation.
// The artifact is kept in the registry with validationStatus == fail.
type SchemaValidationError struct {
	// Artifact is the registry name of the failing artifact
	Artifact string

	// SchemaID identifies the schema it was validated against
	SchemaID string

	// Problems are the individual validation failures
	Problems []string
}

// Error implements the error interface.
func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("artifact %s failed validation against %s (%d problem(s))", e.Artifact, e.SchemaID, len(e.Problems))
}

// BlockedError indicates routing refused to produce an executable chain
// pending security review. Security enforcement fails closed.
type BlockedError struct {
	// Reason is the human-readable blocking reason
	Reason string

	// Categories are the matched security categories
	Categories []string
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	return fmt.Sprintf("routing blocked pending security review: %s", e.Reason)
}

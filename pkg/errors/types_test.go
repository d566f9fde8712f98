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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation with field",
			err:  &ValidationError{Field: "run_id", Message: "must be non-empty"},
			want: "validation failed on run_id: must be non-empty",
		},
		{
			name: "validation without field",
			err:  &ValidationError{Message: "bad input"},
			want: "validation failed: bad input",
		},
		{
			name: "not found",
			err:  &NotFoundError{Resource: "run", ID: "r-123"},
			want: "run not found: r-123",
		},
		{
			name: "corrupt moved aside",
			err:  &CorruptError{Path: "run.json", MovedTo: "run.json.corrupt-1"},
			want: "corrupt state file run.json (moved to run.json.corrupt-1)",
		},
		{
			name: "lock timeout with holder",
			err:  &LockTimeoutError{RunID: "r-1", Holder: 42, Waited: 5 * time.Second},
			want: "timed out after 5s acquiring lock for run r-1 (held by pid 42)",
		},
		{
			name: "state transition",
			err:  &StateTransitionError{RunID: "r-1", From: "completed", To: "in_progress"},
			want: "illegal state transition for run r-1: completed -> in_progress",
		},
		{
			name: "no executor",
			err:  &NoExecutorError{},
			want: "no executor adapter available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestPredicatesMatchWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("reading run: %w", &NotFoundError{Resource: "run", ID: "r-9"})

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsCorrupt(wrapped))
	assert.False(t, IsLockTimeout(wrapped))
}

func TestCorruptErrorUnwrap(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := &CorruptError{Path: "artifact-registry.json", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsCorrupt(fmt.Errorf("recover: %w", err)))
}

func TestExecutorErrorUnwrap(t *testing.T) {
	cause := errors.New("child exited 1")
	err := &ExecutorError{Agent: "developer", Status: "failed", Attempts: 3, Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "executor failed for agent developer after 3 attempt(s)", err.Error())
}

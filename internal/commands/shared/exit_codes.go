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

package shared

import (
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/tombee/maestro/pkg/errors"
)

// Exit codes for the maestro CLI
const (
	ExitSuccess = 0
	// ExitFailure signals a logical failure: a stalled run, a blocked route,
	// a run that finished failed.
	ExitFailure = 1
	// ExitFatal signals bad input or corrupt state.
	ExitFatal = 2
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewFailureError creates a logical-failure error (exit code 1)
func NewFailureError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitFailure, Message: msg, Cause: cause}
}

// NewFatalError creates a fatal error (exit code 2)
func NewFatalError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitFatal, Message: msg, Cause: cause}
}

// CodeFor maps an error to its exit code. Input and state problems are
// fatal; everything else is a logical failure.
func CodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch {
	case pkgerrors.IsValidation(err),
		pkgerrors.IsNotFound(err),
		pkgerrors.IsCorrupt(err):
		return ExitFatal
	default:
		return ExitFailure
	}
}

// HandleExitError prints the error and exits with its mapped code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, RenderError(err.Error()))
	os.Exit(CodeFor(err))
}

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

import "errors"

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsCorrupt reports whether err is (or wraps) a CorruptError.
func IsCorrupt(err error) bool {
	var target *CorruptError
	return errors.As(err, &target)
}

// IsLockTimeout reports whether err is (or wraps) a LockTimeoutError.
func IsLockTimeout(err error) bool {
	var target *LockTimeoutError
	return errors.As(err, &target)
}

// IsStateTransition reports whether err is (or wraps) a StateTransitionError.
func IsStateTransition(err error) bool {
	var target *StateTransitionError
	return errors.As(err, &target)
}

// IsNoExecutor reports whether err is (or wraps) a NoExecutorError.
func IsNoExecutor(err error) bool {
	var target *NoExecutorError
	return errors.As(err, &target)
}

// IsExecutor reports whether err is (or wraps) an ExecutorError.
func IsExecutor(err error) bool {
	var target *ExecutorError
	return errors.As(err, &target)
}

// IsSchemaValidation reports whether err is (or wraps) a SchemaValidationError.
func IsSchemaValidation(err error) bool {
	var target *SchemaValidationError
	return errors.As(err, &target)
}

// IsBlocked reports whether err is (or wraps) a BlockedError.
func IsBlocked(err error) bool {
	var target *BlockedError
	return errors.As(err, &target)
}

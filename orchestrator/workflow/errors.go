// Copyright 2025 AxonFlow
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

package workflow

import (
	"errors"
	"fmt"
)

// RegistryError represents an error from registry operations.
type RegistryError struct {
	WorkflowType string
	Code         string
	Message      string
}

// Registry error codes.
const (
	// ErrRegistryNotFound indicates the workflow type was not found.
	ErrRegistryNotFound = "workflow_not_found"

	// ErrRegistryDuplicate indicates a workflow with that name exists.
	ErrRegistryDuplicate = "workflow_duplicate"

	// ErrRegistryInvalid indicates an invalid registration argument.
	ErrRegistryInvalid = "workflow_invalid"

	// ErrRegistryBuiltin indicates a protected built-in workflow.
	ErrRegistryBuiltin = "workflow_builtin_protected"
)

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.WorkflowType != "" {
		return fmt.Sprintf("workflow registry error for %q: %s", e.WorkflowType, e.Message)
	}
	return fmt.Sprintf("workflow registry error: %s", e.Message)
}

// ExecutionError represents an error from executor or manager operations.
type ExecutionError struct {
	ExecutionID string
	Code        string
	Message     string
	Cause       error
}

// Execution error codes.
const (
	// ErrExecutionNotFound indicates an unknown execution id.
	ErrExecutionNotFound = "execution_not_found"

	// ErrExecutionInvalidState indicates the execution is not in a state
	// that permits the requested operation.
	ErrExecutionInvalidState = "execution_invalid_state"

	// ErrConcurrencyLimit indicates the concurrency ceiling was reached.
	ErrConcurrencyLimit = "concurrency_limit_exceeded"

	// ErrValidation indicates a malformed or incomplete request.
	ErrValidation = "validation_failed"
)

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.ExecutionID != "" {
		return fmt.Sprintf("execution error for %q: %s", e.ExecutionID, e.Message)
	}
	return fmt.Sprintf("execution error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// HasRegistryCode reports whether err is a *RegistryError with the code.
func HasRegistryCode(err error, code string) bool {
	var regErr *RegistryError
	return errors.As(err, &regErr) && regErr.Code == code
}

// HasExecutionCode reports whether err is an *ExecutionError with the code.
func HasExecutionCode(err error, code string) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.Code == code
}

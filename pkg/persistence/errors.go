// Package persistence provides standardized error types for repository
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates no execution exists for the given id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStageNotFound indicates a stage was not found within an execution.
	ErrStageNotFound = errors.New("stage not found")

	// ErrTaskNotFound indicates a task was not found within a stage.
	ErrTaskNotFound = errors.New("task not found")

	// ErrExecutionAlreadyExists indicates an execution with the same id was
	// already stored.
	ErrExecutionAlreadyExists = errors.New("execution already exists")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g. "Retrieve", "StoreStage")
	ExecutionID string
	StageID     string // Stage id if applicable
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.StageID != "" {
		return fmt.Sprintf("%s operation failed for stage %s of execution %s: %v", e.Op, e.StageID, e.ExecutionID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates an execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// NewStageError creates an execution error scoped to one stage.
func NewStageError(op, executionID, stageID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, StageID: stageID, Err: err}
}

// IsExecutionNotFound checks if an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsStageNotFound checks if an error indicates a missing stage.
func IsStageNotFound(err error) bool {
	return errors.Is(err, ErrStageNotFound)
}

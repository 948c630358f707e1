package registry

import (
	"context"
	"errors"
	"time"

	"github.com/gantry-io/gantry/pkg/models"
)

// TaskResult is the outcome of one task invocation. RUNNING means "poll me
// again after my backoff period"; REDIRECT means "repeat the enclosing
// loop". Context entries merge into the stage context, outputs into the
// stage outputs visible to downstream stages.
type TaskResult struct {
	Status  models.Status
	Context map[string]any
	Outputs map[string]any
}

// Task is a single executable unit. The stage handed to Execute carries the
// merged, expression-resolved context.
type Task interface {
	Execute(ctx context.Context, stage *models.Stage) (TaskResult, error)
}

// RetryableTask is a task that polls: it declares how long between
// invocations and how long it may run overall before timing out.
type RetryableTask interface {
	Task

	Timeout() time.Duration
	BackoffPeriod() time.Duration
}

// RetryableError wraps an error the exception-handler chain should classify
// as recoverable, re-running the task after backoff instead of failing it.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryableError marks an error as transient.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err (or anything it wraps) was marked
// transient.
func IsRetryable(err error) bool {
	var re *RetryableError

	return errors.As(err, &re)
}

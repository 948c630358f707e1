// Package models defines the execution, stage and task data model shared by
// every engine component.
package models

// Status is shared by executions, stages and tasks. Not every value is valid
// for all three: REDIRECT is a task-only result signalling "repeat the
// enclosing loop" and is never persisted as a final status.
type Status string

const (
	StatusNotStarted     Status = "NOT_STARTED"
	StatusRunning        Status = "RUNNING"
	StatusPaused         Status = "PAUSED"
	StatusSucceeded      Status = "SUCCEEDED"
	StatusFailedContinue Status = "FAILED_CONTINUE"
	StatusStopped        Status = "STOPPED"
	StatusSkipped        Status = "SKIPPED"
	StatusTerminal       Status = "TERMINAL"
	StatusCanceled       Status = "CANCELED"
	StatusRedirect       Status = "REDIRECT"
)

// IsComplete reports whether the status unblocks downstream stages waiting on
// a requisite. Failure statuses count as complete here; whether downstream
// work actually runs is decided by AllowsDownstream.
func (s Status) IsComplete() bool {
	switch s {
	case StatusSucceeded, StatusFailedContinue, StatusStopped, StatusSkipped,
		StatusTerminal, StatusCanceled:
		return true
	default:
		return false
	}
}

// AllowsDownstream reports whether downstream stages may proceed as if this
// stage succeeded.
func (s Status) AllowsDownstream() bool {
	switch s {
	case StatusSucceeded, StatusFailedContinue, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the status blocks downstream work entirely.
func (s Status) IsFailure() bool {
	switch s {
	case StatusTerminal, StatusStopped, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsHalt reports whether completing a stage with this status must halt the
// execution rather than fan out to dependents.
func (s Status) IsHalt() bool {
	return s == StatusTerminal || s == StatusCanceled
}

func (s Status) IsRunning() bool {
	return s == StatusRunning
}

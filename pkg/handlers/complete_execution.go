package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// CompleteExecutionHandler rolls the top-level stage statuses up into a
// final execution status. It is pushed optimistically whenever a branch
// ends, so it no-ops while undecided branches are still running and defers
// failure when a failed stage asked for other branches to finish first.
type CompleteExecutionHandler struct {
	deps Deps
}

func (h *CompleteExecutionHandler) Handle(ctx context.Context, msg *messages.CompleteExecution) error {
	return h.deps.withExecution(ctx, msg, func(execution *models.Execution) error {
		if execution.Status.IsComplete() {
			return nil
		}

		roll := summarize(execution)

		if roll.failed(execution) {
			if roll.deferFailure && roll.incomplete > 0 {
				return h.deps.Queue.PushDelayed(ctx, msg, h.deps.RetryDelay)
			}

			return h.finalize(ctx, execution, roll.failureStatus(execution))
		}

		if roll.incomplete > 0 {
			// Another branch is still deciding the outcome.
			return nil
		}

		return h.finalize(ctx, execution, models.StatusSucceeded)
	})
}

// rollup summarizes the top-level stages of an execution.
type rollup struct {
	terminal      bool
	canceledStage bool
	stoppedFatal  bool
	deferFailure  bool
	incomplete    int
}

func summarize(execution *models.Execution) rollup {
	var roll rollup

	for _, stage := range execution.Stages {
		if stage.IsSynthetic() {
			continue
		}

		switch stage.Status {
		case models.StatusTerminal:
			roll.terminal = true
		case models.StatusCanceled:
			roll.canceledStage = true
		case models.StatusStopped:
			if stage.CompleteOtherBranchesThenFail() {
				roll.stoppedFatal = true
			}
		case models.StatusRunning, models.StatusPaused:
			roll.incomplete++
		case models.StatusNotStarted:
			if wouldStillRun(execution, stage) {
				roll.incomplete++
			}
		}

		if stage.Status.IsFailure() && stage.CompleteOtherBranchesThenFail() {
			roll.deferFailure = true
		}
	}

	return roll
}

// wouldStillRun reports whether a NOT_STARTED stage is still reachable: all
// of its upstream stages either haven't settled yet or settled in a way that
// lets it proceed.
func wouldStillRun(execution *models.Execution, stage *models.Stage) bool {
	for _, up := range execution.UpstreamStages(stage) {
		if up.Status.IsComplete() {
			if !up.Status.AllowsDownstream() {
				return false
			}

			continue
		}

		if up.Status == models.StatusNotStarted && !wouldStillRun(execution, up) {
			return false
		}
	}

	return true
}

func (r rollup) failed(execution *models.Execution) bool {
	return r.terminal || r.canceledStage || r.stoppedFatal || execution.Canceled
}

func (r rollup) failureStatus(execution *models.Execution) models.Status {
	switch {
	case r.terminal:
		return models.StatusTerminal
	case execution.Canceled || r.canceledStage:
		return models.StatusCanceled
	default:
		return models.StatusTerminal
	}
}

func (h *CompleteExecutionHandler) finalize(ctx context.Context, execution *models.Execution, status models.Status) error {
	if err := h.deps.Repository.UpdateStatus(ctx, execution.ID, status); err != nil {
		return err
	}

	h.deps.Logger.InfoContext(ctx, "execution complete", "executionId", execution.ID, "status", status)

	if err := h.deps.Events.Publish(ctx, events.ExecutionComplete{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompleteEvent, execution),
		Status:    status,
	}); err != nil {
		return err
	}

	if execution.LimitConcurrent && execution.PipelineConfigID != "" {
		release := &messages.StartWaitingExecutions{PipelineConfigID: execution.PipelineConfigID}
		release.ExecutionID = execution.ID

		return h.deps.Queue.Push(ctx, release)
	}

	return nil
}

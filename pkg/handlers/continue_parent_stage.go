package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// ContinueParentStageHandler is the join point after a synthetic phase: it
// waits for every sibling in the phase, then advances the parent to its own
// tasks (BEFORE) or to completion (AFTER).
type ContinueParentStageHandler struct {
	deps Deps
}

func (h *ContinueParentStageHandler) Handle(ctx context.Context, msg *messages.ContinueParentStage) error {
	return h.deps.withStage(ctx, msg, func(execution *models.Execution, parent *models.Stage) error {
		children := execution.SyntheticChildren(parent.ID, msg.Phase)

		// Waiting takes precedence over failure: a failed sibling's roll-up
		// only proceeds once every branch has settled.
		for _, child := range children {
			if !child.Status.IsComplete() {
				return h.deps.Queue.PushDelayed(ctx, msg, h.deps.RetryDelay)
			}
		}

		for _, child := range children {
			if child.Status.AllowsDownstream() {
				continue
			}

			if msg.Phase == models.SyntheticBefore {
				// The failing BEFORE child already rolled its status up to
				// the parent when it completed.
				return nil
			}

			return h.deps.Queue.Push(ctx, newCompleteStage(execution.ID, parent.ID, child.Status))
		}

		if msg.Phase == models.SyntheticAfter {
			return h.deps.Queue.Push(ctx, newCompleteStage(execution.ID, parent.ID, ownWorkStatus(parent)))
		}

		first := parent.FirstTask()
		if first == nil {
			return h.deps.Queue.Push(ctx, newCompleteStage(execution.ID, parent.ID, models.StatusSucceeded))
		}

		if first.Status != models.StatusNotStarted {
			// A concurrent join delivery already started the parent's tasks.
			return nil
		}

		return h.deps.Queue.Push(ctx, newStartTask(execution.ID, parent.ID, first.ID))
	})
}

// ownWorkStatus derives the status the parent's own tasks finished with. The
// AFTER phase intercepted that completion, so the join must restore it: a
// FAILED_CONTINUE stage never upgrades to SUCCEEDED.
func ownWorkStatus(parent *models.Stage) models.Status {
	for _, task := range parent.Tasks {
		if task.Status == models.StatusFailedContinue {
			return models.StatusFailedContinue
		}
	}

	return models.StatusSucceeded
}

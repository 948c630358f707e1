package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// CompleteStageHandler finalizes a stage and decides what runs next: the
// deferred AFTER phase, the next synthetic sibling, the parent join, the
// downstream fan-out, or the end of the execution.
type CompleteStageHandler struct {
	deps Deps
}

func (h *CompleteStageHandler) Handle(ctx context.Context, msg *messages.CompleteStage) error {
	return h.deps.withStage(ctx, msg, func(execution *models.Execution, stage *models.Stage) error {
		if stage.EndTime != nil {
			// Redelivered after the stage already completed.
			return nil
		}

		status := msg.Status

		if status.AllowsDownstream() {
			started, newStatus, err := h.planDeferredAfterStages(ctx, execution, stage, status)
			if err != nil || started {
				return err
			}

			status = newStatus
		}

		now := h.deps.Now()
		stage.Status = status
		stage.EndTime = &now

		if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
			return err
		}

		if err := h.deps.Events.Publish(ctx, events.StageComplete{
			BaseEvent: events.NewBaseEvent(events.StageCompleteEvent, execution),
			StageID:   stage.ID,
			StageType: stage.Type,
			Status:    status,
		}); err != nil {
			return err
		}

		if stage.IsSynthetic() {
			return h.completeSynthetic(ctx, execution, stage, status)
		}

		return h.completeTopLevel(ctx, execution, stage, status)
	})
}

// planDeferredAfterStages expands the AFTER phase now that the stage's own
// work succeeded. It returns started=true when the first AFTER child was
// launched and completion must wait for the join; on a fatal planning error
// it returns the failure status the stage should complete with instead.
func (h *CompleteStageHandler) planDeferredAfterStages(ctx context.Context, execution *models.Execution, stage *models.Stage, status models.Status) (bool, models.Status, error) {
	if len(execution.SyntheticChildren(stage.ID, models.SyntheticAfter)) > 0 {
		// The AFTER phase already ran; this completion is the join result.
		return false, status, nil
	}

	plan, err := h.deps.Planner.Plan(stage)
	if err != nil {
		response, _ := h.deps.classify("after stage planning", err)
		if response.ShouldRetry {
			h.deps.Logger.WarnContext(ctx, "after stage planning failed, retrying",
				"executionId", execution.ID, "stageId", stage.ID, "error", err)

			retry := newCompleteStage(execution.ID, stage.ID, status)

			return true, status, h.deps.Queue.PushDelayed(ctx, retry, h.deps.RetryDelay)
		}

		h.deps.Logger.ErrorContext(ctx, "after stage planning failed",
			"executionId", execution.ID, "stageId", stage.ID, "error", err)

		if stage.Context == nil {
			stage.Context = map[string]any{}
		}

		stage.Context["exception"] = response

		return false, stage.FailureStatus(models.StatusTerminal), nil
	}

	if len(plan.AfterStages) == 0 {
		return false, status, nil
	}

	for _, child := range plan.AfterStages {
		if err := h.deps.Repository.AddStage(ctx, execution.ID, child); err != nil {
			return false, status, err
		}

		execution.AddStage(child)
	}

	return true, status, h.deps.Queue.Push(ctx, newStartStage(execution.ID, plan.AfterStages[0].ID))
}

// completeSynthetic routes a finished synthetic stage: chain the next
// sibling, signal the parent join, or roll a failure up to the owner. A
// synthetic stage never ends the execution directly.
func (h *CompleteStageHandler) completeSynthetic(ctx context.Context, execution *models.Execution, stage *models.Stage, status models.Status) error {
	parent := execution.StageByID(stage.ParentStageID)
	if parent == nil {
		h.deps.Logger.ErrorContext(ctx, "synthetic stage has no parent",
			"executionId", execution.ID, "stageId", stage.ID, "parentStageId", stage.ParentStageID)

		invalid := &messages.InvalidStageID{StageBase: stageBase(execution.ID, stage.ParentStageID)}

		return h.deps.Queue.Push(ctx, invalid)
	}

	if !status.AllowsDownstream() {
		if err := h.deps.Queue.Push(ctx, newCancelStage(execution.ID, stage.ID)); err != nil {
			return err
		}

		return h.deps.Queue.Push(ctx, newCompleteStage(execution.ID, parent.ID, status))
	}

	switch stage.SyntheticStageOwner {
	case models.SyntheticBefore:
		if batch := nextBeforeBatch(execution, parent, stage.ID); len(batch) > 0 {
			for _, sibling := range batch {
				if err := h.deps.Queue.Push(ctx, newStartStage(execution.ID, sibling.ID)); err != nil {
					return err
				}
			}

			return nil
		}
	case models.SyntheticAfter:
		if next := nextAfterStage(execution, parent, stage.ID); next != nil {
			return h.deps.Queue.Push(ctx, newStartStage(execution.ID, next.ID))
		}
	}

	return h.deps.Queue.Push(ctx, newContinueParentStage(execution.ID, parent.ID, stage.SyntheticStageOwner))
}

// completeTopLevel fans out to downstream stages or winds the execution
// down. STOPPED without the fatal flag still fans out; downstream stages
// re-check their requisites and stop themselves.
func (h *CompleteStageHandler) completeTopLevel(ctx context.Context, execution *models.Execution, stage *models.Stage, status models.Status) error {
	fanOut := status.AllowsDownstream() ||
		(status == models.StatusStopped && !stage.CompleteOtherBranchesThenFail())

	if !fanOut {
		if err := h.deps.Queue.Push(ctx, newCancelStage(execution.ID, stage.ID)); err != nil {
			return err
		}

		return h.deps.Queue.Push(ctx, newCompleteExecution(execution.ID))
	}

	downstream := execution.DownstreamStages(stage.RefID)
	if len(downstream) == 0 {
		return h.deps.Queue.Push(ctx, newCompleteExecution(execution.ID))
	}

	for _, next := range downstream {
		if err := h.deps.Queue.Push(ctx, newStartStage(execution.ID, next.ID)); err != nil {
			return err
		}
	}

	return nil
}

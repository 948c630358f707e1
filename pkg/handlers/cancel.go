package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/registry"
)

// CancelExecutionHandler flags the execution canceled and re-drives in-flight
// work so it observes the flag. Paused stages are resumed first; a pause must
// not shield an execution from cancellation.
type CancelExecutionHandler struct {
	deps Deps
}

func (h *CancelExecutionHandler) Handle(ctx context.Context, msg *messages.CancelExecution) error {
	return h.deps.withExecution(ctx, msg, func(execution *models.Execution) error {
		if execution.Status.IsComplete() {
			return nil
		}

		if err := h.deps.Repository.Cancel(ctx, execution.ID, msg.CanceledBy, msg.Reason); err != nil {
			return err
		}

		h.deps.Logger.InfoContext(ctx, "execution canceled",
			"executionId", execution.ID, "canceledBy", msg.CanceledBy, "reason", msg.Reason)

		reschedule := &messages.RescheduleExecution{}
		reschedule.ExecutionID = execution.ID

		if err := h.deps.Queue.Push(ctx, reschedule); err != nil {
			return err
		}

		if execution.Status == models.StatusPaused {
			if err := h.deps.Repository.Resume(ctx, execution.ID, msg.CanceledBy); err != nil {
				return err
			}
		}

		var pausedStages []*models.Stage

		for _, stage := range execution.Stages {
			if stage.Status == models.StatusPaused {
				pausedStages = append(pausedStages, stage)
			}
		}

		if len(pausedStages) == 0 {
			return h.deps.Events.Publish(ctx, events.ExecutionComplete{
				BaseEvent: events.NewBaseEvent(events.ExecutionCompleteEvent, execution),
				Status:    models.StatusCanceled,
			})
		}

		for _, stage := range pausedStages {
			resume := &messages.ResumeStage{StageBase: stageBase(execution.ID, stage.ID)}

			if err := h.deps.Queue.Push(ctx, resume); err != nil {
				return err
			}
		}

		return nil
	})
}

// CancelStageHandler runs a stage type's cleanup routine after the stage was
// halted. Stages that never started, finished cleanly, or whose type has no
// cancellation support are left alone.
type CancelStageHandler struct {
	deps Deps
}

func (h *CancelStageHandler) Handle(ctx context.Context, msg *messages.CancelStage) error {
	return h.deps.withStage(ctx, msg, func(execution *models.Execution, stage *models.Stage) error {
		switch stage.Status {
		case models.StatusRunning, models.StatusPaused,
			models.StatusTerminal, models.StatusCanceled, models.StatusStopped:
		default:
			return nil
		}

		builder, err := h.deps.Registry.StageBuilder(stage.Type)
		if err != nil {
			h.deps.Logger.WarnContext(ctx, "cannot cancel stage of unknown type",
				"executionId", execution.ID, "stageId", stage.ID, "stageType", stage.Type)

			return nil
		}

		cancellable, ok := builder.(registry.Cancellable)
		if !ok {
			return nil
		}

		if err := cancellable.Cancel(ctx, stage); err != nil {
			// Cleanup is best effort; the stage outcome is already decided.
			h.deps.Logger.ErrorContext(ctx, "stage cancellation routine failed",
				"executionId", execution.ID, "stageId", stage.ID, "stageType", stage.Type, "error", err)
		}

		return nil
	})
}

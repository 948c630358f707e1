package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// AbortStageHandler forcibly terminates an in-flight stage, runs its
// cleanup, and winds down the execution (or the owning stage for a synthetic
// child).
type AbortStageHandler struct {
	deps Deps
}

func (h *AbortStageHandler) Handle(ctx context.Context, msg *messages.AbortStage) error {
	return h.deps.withStage(ctx, msg, func(execution *models.Execution, stage *models.Stage) error {
		if stage.Status.IsComplete() {
			return nil
		}

		now := h.deps.Now()
		stage.Status = models.StatusTerminal
		stage.EndTime = &now

		if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
			return err
		}

		if err := h.deps.Events.Publish(ctx, events.StageComplete{
			BaseEvent: events.NewBaseEvent(events.StageCompleteEvent, execution),
			StageID:   stage.ID,
			StageType: stage.Type,
			Status:    models.StatusTerminal,
		}); err != nil {
			return err
		}

		if err := h.deps.Queue.Push(ctx, newCancelStage(execution.ID, stage.ID)); err != nil {
			return err
		}

		if stage.IsTopLevel() {
			return h.deps.Queue.Push(ctx, newCompleteExecution(execution.ID))
		}

		return h.deps.Queue.Push(ctx, newCompleteStage(execution.ID, stage.ParentStageID, models.StatusTerminal))
	})
}

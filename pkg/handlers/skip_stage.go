package handlers

import (
	"context"
	"time"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// SkipStageHandler completes a stage as SKIPPED without running its work. A
// manual skip also cascades to synthetic descendants that haven't settled.
type SkipStageHandler struct {
	deps Deps
}

func (h *SkipStageHandler) Handle(ctx context.Context, msg *messages.SkipStage) error {
	return h.deps.withStage(ctx, msg, func(execution *models.Execution, stage *models.Stage) error {
		if stage.Status.IsComplete() {
			return nil
		}

		now := h.deps.Now()
		stage.Status = models.StatusSkipped
		stage.EndTime = &now

		if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
			return err
		}

		if stage.IsManuallySkipped() {
			if err := h.cascade(ctx, execution, stage, now); err != nil {
				return err
			}
		}

		if err := h.deps.Events.Publish(ctx, events.StageComplete{
			BaseEvent: events.NewBaseEvent(events.StageCompleteEvent, execution),
			StageID:   stage.ID,
			StageType: stage.Type,
			Status:    models.StatusSkipped,
		}); err != nil {
			return err
		}

		if stage.IsSynthetic() {
			parent := execution.StageByID(stage.ParentStageID)
			if parent == nil {
				invalid := &messages.InvalidStageID{StageBase: stageBase(execution.ID, stage.ParentStageID)}

				return h.deps.Queue.Push(ctx, invalid)
			}

			return h.deps.Queue.Push(ctx, newContinueParentStage(execution.ID, parent.ID, stage.SyntheticStageOwner))
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
	})
}

// cascade marks unsettled synthetic descendants SKIPPED. Descendants that
// already reached a meaningful end state keep it.
func (h *SkipStageHandler) cascade(ctx context.Context, execution *models.Execution, stage *models.Stage, now time.Time) error {
	for _, descendant := range execution.SyntheticDescendants(stage.ID) {
		switch descendant.Status {
		case models.StatusTerminal, models.StatusFailedContinue, models.StatusSucceeded:
			continue
		}

		descendant.Status = models.StatusSkipped
		end := now
		descendant.EndTime = &end

		if err := h.deps.Repository.StoreStage(ctx, execution.ID, descendant); err != nil {
			return err
		}
	}

	return nil
}

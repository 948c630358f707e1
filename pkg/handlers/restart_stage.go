package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// RestartStageHandler rewinds a finished stage (and everything downstream of
// it) so the execution can run again from that point. Only SUCCEEDED and
// TERMINAL stages are restartable; anything else is ignored.
type RestartStageHandler struct {
	deps Deps
}

func (h *RestartStageHandler) Handle(ctx context.Context, msg *messages.RestartStage) error {
	return h.deps.withStage(ctx, msg, func(execution *models.Execution, stage *models.Stage) error {
		if stage.Status != models.StatusSucceeded && stage.Status != models.StatusTerminal {
			h.deps.Logger.WarnContext(ctx, "refusing to restart stage",
				"executionId", execution.ID, "stageId", stage.ID, "status", stage.Status)

			return nil
		}

		if stage.IsSynthetic() {
			// Synthetic stages restart through their owner.
			ancestor := execution.TopLevelAncestor(stage)
			if ancestor == nil {
				invalid := &messages.InvalidStageID{StageBase: stageBase(execution.ID, stage.ParentStageID)}

				return h.deps.Queue.Push(ctx, invalid)
			}

			redirect := &messages.RestartStage{
				StageBase:   stageBase(execution.ID, ancestor.ID),
				RestartedBy: msg.RestartedBy,
			}

			return h.deps.Queue.Push(ctx, redirect)
		}

		h.reset(execution, stage, msg.RestartedBy)

		for _, downstream := range execution.TransitiveDownstream(stage.RefID) {
			downstream.Status = models.StatusNotStarted
			downstream.StartTime = nil
			downstream.EndTime = nil
			downstream.Tasks = nil
			removeSyntheticDescendants(execution, downstream.ID)
		}

		execution.Status = models.StatusRunning
		execution.EndTime = nil
		execution.Canceled = false
		execution.CanceledBy = ""
		execution.CancellationReason = ""

		if err := h.deps.Repository.Store(ctx, execution); err != nil {
			return err
		}

		h.deps.Logger.InfoContext(ctx, "stage restarted",
			"executionId", execution.ID, "stageId", stage.ID, "restartedBy", msg.RestartedBy)

		return h.deps.Queue.Push(ctx, newStartStage(execution.ID, stage.ID))
	})
}

// reset returns the stage to a runnable state, folding any previous failure
// detail into restartDetails for the audit trail.
func (h *RestartStageHandler) reset(execution *models.Execution, stage *models.Stage, restartedBy string) {
	if stage.Context == nil {
		stage.Context = map[string]any{}
	}

	details := map[string]any{
		"restartedBy": restartedBy,
		"restartTime": h.deps.Now().UnixMilli(),
	}

	if previous, ok := stage.Context["exception"]; ok {
		details["previousException"] = previous

		delete(stage.Context, "exception")
	}

	stage.Context["restartDetails"] = details
	stage.Status = models.StatusNotStarted
	stage.StartTime = nil
	stage.EndTime = nil
	stage.Tasks = nil

	removeSyntheticDescendants(execution, stage.ID)
}

func removeSyntheticDescendants(execution *models.Execution, stageID string) {
	for _, descendant := range execution.SyntheticDescendants(stageID) {
		execution.RemoveStage(descendant.ID)
	}
}

package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// StartExecutionHandler admits an execution into the engine: it enforces the
// start-time TTL and the per-pipeline concurrency limit, then fans out to
// the root stages.
type StartExecutionHandler struct {
	deps Deps
}

func (h *StartExecutionHandler) Handle(ctx context.Context, msg *messages.StartExecution) error {
	return h.deps.withExecution(ctx, msg, func(execution *models.Execution) error {
		if execution.IsExpired(h.deps.Now()) {
			return h.expire(ctx, execution)
		}

		if execution.Canceled || execution.Status == models.StatusCanceled {
			h.deps.Logger.InfoContext(ctx, "execution was canceled before starting", "executionId", execution.ID)

			return h.deps.Events.Publish(ctx, events.ExecutionComplete{
				BaseEvent: events.NewBaseEvent(events.ExecutionCompleteEvent, execution),
				Status:    models.StatusCanceled,
			})
		}

		deferred, err := h.deferIfLimited(ctx, execution)
		if err != nil || deferred {
			return err
		}

		return h.start(ctx, execution)
	})
}

// expire cancels an execution whose start-time TTL lapsed while it waited to
// begin.
func (h *StartExecutionHandler) expire(ctx context.Context, execution *models.Execution) error {
	h.deps.Logger.WarnContext(ctx, "execution expired before starting", "executionId", execution.ID)

	reason := "could not begin execution before start time expiry"
	if err := h.deps.Repository.Cancel(ctx, execution.ID, "system", reason); err != nil {
		return err
	}

	if err := h.deps.Repository.UpdateStatus(ctx, execution.ID, models.StatusCanceled); err != nil {
		return err
	}

	return h.deps.Events.Publish(ctx, events.ExecutionComplete{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompleteEvent, execution),
		Status:    models.StatusCanceled,
	})
}

// deferIfLimited parks the execution on the waiting queue when its pipeline
// configuration limits concurrency and another run is already active.
func (h *StartExecutionHandler) deferIfLimited(ctx context.Context, execution *models.Execution) (bool, error) {
	if !execution.LimitConcurrent || execution.PipelineConfigID == "" || h.deps.Waiting == nil {
		return false, nil
	}

	running, err := h.deps.Repository.RunningExecutionIDsForConfig(ctx, execution.PipelineConfigID)
	if err != nil {
		return false, err
	}

	for _, id := range running {
		if id == execution.ID {
			continue
		}

		h.deps.Logger.InfoContext(ctx, "deferring execution, another is already running",
			"executionId", execution.ID, "pipelineConfigId", execution.PipelineConfigID, "runningExecutionId", id)

		return true, h.deps.Waiting.Enqueue(ctx, execution.PipelineConfigID, execution.ID)
	}

	return false, nil
}

func (h *StartExecutionHandler) start(ctx context.Context, execution *models.Execution) error {
	if err := h.deps.Repository.UpdateStatus(ctx, execution.ID, models.StatusRunning); err != nil {
		return err
	}

	roots := execution.InitialStages()
	if len(roots) == 0 {
		h.deps.Logger.ErrorContext(ctx, "execution has no initial stages", "executionId", execution.ID)

		if err := h.deps.Repository.UpdateStatus(ctx, execution.ID, models.StatusTerminal); err != nil {
			return err
		}

		return h.deps.Events.Publish(ctx, events.ExecutionComplete{
			BaseEvent: events.NewBaseEvent(events.ExecutionCompleteEvent, execution),
			Status:    models.StatusTerminal,
		})
	}

	if err := h.deps.Events.Publish(ctx, events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, execution),
	}); err != nil {
		return err
	}

	for _, stage := range roots {
		if err := h.deps.Queue.Push(ctx, newStartStage(execution.ID, stage.ID)); err != nil {
			return err
		}
	}

	return nil
}

package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// StartTaskHandler marks a task running and hands it to the task runner.
type StartTaskHandler struct {
	deps Deps
}

func (h *StartTaskHandler) Handle(ctx context.Context, msg *messages.StartTask) error {
	return h.deps.withTask(ctx, msg, func(execution *models.Execution, stage *models.Stage, task *models.Task) error {
		if task.Status.IsComplete() {
			h.deps.Logger.DebugContext(ctx, "ignoring duplicate task start",
				"executionId", execution.ID, "stageId", stage.ID, "taskId", task.ID, "status", task.Status)

			return nil
		}

		now := h.deps.Now()
		task.Status = models.StatusRunning
		task.StartTime = &now

		if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
			return err
		}

		if err := h.deps.Events.Publish(ctx, events.TaskStarted{
			BaseEvent: events.NewBaseEvent(events.TaskStartedEvent, execution),
			StageID:   stage.ID,
			TaskID:    task.ID,
		}); err != nil {
			return err
		}

		return h.deps.Queue.Push(ctx, newRunTask(execution.ID, stage.ID, task))
	})
}

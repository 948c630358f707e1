package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// CompleteTaskHandler records a task's final status and advances the stage:
// the next task in list order, or stage completion when this was the last
// task or the status blocks further work.
type CompleteTaskHandler struct {
	deps Deps
}

func (h *CompleteTaskHandler) Handle(ctx context.Context, msg *messages.CompleteTask) error {
	return h.deps.withTask(ctx, msg, func(execution *models.Execution, stage *models.Stage, task *models.Task) error {
		if task.EndTime != nil {
			return nil
		}

		now := h.deps.Now()
		task.Status = msg.Status
		task.EndTime = &now

		if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
			return err
		}

		if err := h.deps.Events.Publish(ctx, events.TaskComplete{
			BaseEvent: events.NewBaseEvent(events.TaskCompleteEvent, execution),
			StageID:   stage.ID,
			TaskID:    task.ID,
			Status:    msg.Status,
		}); err != nil {
			return err
		}

		// Only a clean success advances to the next task; everything else,
		// FAILED_CONTINUE included, completes the stage with this status.
		if msg.Status != models.StatusSucceeded || task.StageEnd {
			return h.deps.Queue.Push(ctx, newCompleteStage(execution.ID, stage.ID, msg.Status))
		}

		next := stage.NextTask(task)
		if next == nil {
			h.deps.Logger.ErrorContext(ctx, "no downstream task after non-terminal task",
				"executionId", execution.ID, "stageId", stage.ID, "taskId", task.ID)

			missing := &messages.NoDownstreamTasks{StageBase: stageBase(execution.ID, stage.ID)}

			return h.deps.Queue.Push(ctx, missing)
		}

		return h.deps.Queue.Push(ctx, newStartTask(execution.ID, stage.ID, next.ID))
	})
}

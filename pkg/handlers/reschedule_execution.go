package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// RescheduleExecutionHandler re-drives every in-flight task of an execution.
// Used to recover work whose delayed messages were lost and to make running
// tasks observe a freshly set cancellation flag.
type RescheduleExecutionHandler struct {
	deps Deps
}

func (h *RescheduleExecutionHandler) Handle(ctx context.Context, msg *messages.RescheduleExecution) error {
	return h.deps.withExecution(ctx, msg, func(execution *models.Execution) error {
		for _, stage := range execution.Stages {
			if !stage.Status.IsRunning() {
				continue
			}

			for _, task := range stage.Tasks {
				if !task.Status.IsRunning() {
					continue
				}

				if err := h.deps.Queue.Reschedule(ctx, newRunTask(execution.ID, stage.ID, task)); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

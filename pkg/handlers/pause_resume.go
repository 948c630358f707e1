package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
)

// PauseTaskHandler freezes a running task and rolls the pause up to its
// stage.
type PauseTaskHandler struct {
	deps Deps
}

func (h *PauseTaskHandler) Handle(ctx context.Context, msg *messages.PauseTask) error {
	return h.deps.withTask(ctx, msg, func(execution *models.Execution, stage *models.Stage, task *models.Task) error {
		if task.Status != models.StatusRunning {
			return nil
		}

		task.Status = models.StatusPaused

		if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
			return err
		}

		pause := &messages.PauseStage{StageBase: stageBase(execution.ID, stage.ID)}

		return h.deps.Queue.Push(ctx, pause)
	})
}

// PauseStageHandler pauses a running stage. A pause landing on a synthetic
// stage is re-aimed at its owner so the whole unit pauses together.
type PauseStageHandler struct {
	deps Deps
}

func (h *PauseStageHandler) Handle(ctx context.Context, msg *messages.PauseStage) error {
	return h.deps.withStage(ctx, msg, func(execution *models.Execution, stage *models.Stage) error {
		if stage.IsSynthetic() {
			rollUp := &messages.PauseStage{StageBase: stageBase(execution.ID, stage.ParentStageID)}

			return h.deps.Queue.Push(ctx, rollUp)
		}

		if stage.Status != models.StatusRunning {
			return nil
		}

		stage.Status = models.StatusPaused

		return h.deps.Repository.StoreStage(ctx, execution.ID, stage)
	})
}

// ResumeExecutionHandler lifts the execution-level pause and resumes every
// paused stage.
type ResumeExecutionHandler struct {
	deps Deps
}

func (h *ResumeExecutionHandler) Handle(ctx context.Context, msg *messages.ResumeExecution) error {
	return h.deps.withExecution(ctx, msg, func(execution *models.Execution) error {
		if err := h.deps.Repository.Resume(ctx, execution.ID, msg.ResumedBy); err != nil {
			return err
		}

		for _, stage := range execution.Stages {
			if stage.Status != models.StatusPaused {
				continue
			}

			resume := &messages.ResumeStage{StageBase: stageBase(execution.ID, stage.ID)}

			if err := h.deps.Queue.Push(ctx, resume); err != nil {
				return err
			}
		}

		return nil
	})
}

// ResumeStageHandler returns a paused stage to RUNNING and resumes its
// paused tasks.
type ResumeStageHandler struct {
	deps Deps
}

func (h *ResumeStageHandler) Handle(ctx context.Context, msg *messages.ResumeStage) error {
	return h.deps.withStage(ctx, msg, func(execution *models.Execution, stage *models.Stage) error {
		if stage.Status != models.StatusPaused {
			return nil
		}

		stage.Status = models.StatusRunning

		if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
			return err
		}

		for _, task := range stage.Tasks {
			if task.Status != models.StatusPaused {
				continue
			}

			resume := &messages.ResumeTask{
				TaskBase: taskBase(execution.ID, stage.ID, task.ID),
				TaskType: task.ImplementingType,
			}

			if err := h.deps.Queue.Push(ctx, resume); err != nil {
				return err
			}
		}

		return nil
	})
}

// ResumeTaskHandler returns a paused task to RUNNING and re-drives it.
type ResumeTaskHandler struct {
	deps Deps
}

func (h *ResumeTaskHandler) Handle(ctx context.Context, msg *messages.ResumeTask) error {
	return h.deps.withTask(ctx, msg, func(execution *models.Execution, stage *models.Stage, task *models.Task) error {
		if task.Status != models.StatusPaused {
			return nil
		}

		task.Status = models.StatusRunning

		if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
			return err
		}

		return h.deps.Queue.Push(ctx, newRunTask(execution.ID, stage.ID, task))
	})
}

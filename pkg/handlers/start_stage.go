package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/planner"
)

// StartStageHandler gates a stage on its upstream requisites, expands it
// through the planner and launches the first unit of work: the first BEFORE
// child, all parallel branches, the first task, or straight to completion
// for an empty stage.
type StartStageHandler struct {
	deps Deps
}

func (h *StartStageHandler) Handle(ctx context.Context, msg *messages.StartStage) error {
	return h.deps.withStage(ctx, msg, func(execution *models.Execution, stage *models.Stage) error {
		if stage.Status.IsComplete() || stage.Status.IsRunning() {
			h.deps.Logger.DebugContext(ctx, "ignoring duplicate stage start",
				"executionId", execution.ID, "stageId", stage.ID, "status", stage.Status)

			return nil
		}

		upstream := execution.UpstreamStages(stage)

		for _, up := range upstream {
			if up.Status.IsFailure() {
				return h.deps.Queue.Push(ctx, newCompleteExecution(execution.ID))
			}
		}

		for _, up := range upstream {
			if !up.Status.IsComplete() {
				// An upstream branch is still working; poll again without
				// touching the stage.
				return h.deps.Queue.PushDelayed(ctx, msg, h.deps.RetryDelay)
			}
		}

		now := h.deps.Now()
		stage.Status = models.StatusRunning
		stage.StartTime = &now

		if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
			return err
		}

		if execution.IsExpired(now) {
			skip := &messages.SkipStage{StageBase: stageBase(execution.ID, stage.ID)}

			return h.deps.Queue.Push(ctx, skip)
		}

		plan, err := h.deps.Planner.Plan(stage)
		if err != nil {
			return h.planningFailed(ctx, execution, stage, err)
		}

		return h.launch(ctx, execution, stage, plan)
	})
}

// planningFailed classifies the error; recoverable failures re-drive the
// same message, fatal ones complete the stage with its mapped failure
// status.
func (h *StartStageHandler) planningFailed(ctx context.Context, execution *models.Execution, stage *models.Stage, err error) error {
	response, _ := h.deps.classify("stage planning", err)
	if response.ShouldRetry {
		h.deps.Logger.WarnContext(ctx, "stage planning failed, retrying",
			"executionId", execution.ID, "stageId", stage.ID, "error", err)

		msg := newStartStage(execution.ID, stage.ID)

		return h.deps.Queue.PushDelayed(ctx, msg, h.deps.RetryDelay)
	}

	h.deps.Logger.ErrorContext(ctx, "stage planning failed",
		"executionId", execution.ID, "stageId", stage.ID, "error", err)

	if stage.Context == nil {
		stage.Context = map[string]any{}
	}

	stage.Context["exception"] = response
	stage.Context["beforeStagePlanningFailed"] = true

	if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
		return err
	}

	status := stage.FailureStatus(models.StatusTerminal)

	return h.deps.Queue.Push(ctx, newCompleteStage(execution.ID, stage.ID, status))
}

func (h *StartStageHandler) launch(ctx context.Context, execution *models.Execution, stage *models.Stage, plan *planner.Plan) error {
	stage.Tasks = plan.Tasks

	if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
		return err
	}

	for _, child := range plan.BeforeStages {
		if err := h.deps.Repository.AddStage(ctx, execution.ID, child); err != nil {
			return err
		}

		execution.AddStage(child)
	}

	if err := h.deps.Events.Publish(ctx, events.StageStarted{
		BaseEvent: events.NewBaseEvent(events.StageStartedEvent, execution),
		StageID:   stage.ID,
		StageType: stage.Type,
	}); err != nil {
		return err
	}

	if len(plan.BeforeStages) > 0 {
		for _, child := range nextBeforeBatch(execution, stage, "") {
			if err := h.deps.Queue.Push(ctx, newStartStage(execution.ID, child.ID)); err != nil {
				return err
			}
		}

		return nil
	}

	if first := stage.FirstTask(); first != nil {
		return h.deps.Queue.Push(ctx, newStartTask(execution.ID, stage.ID, first.ID))
	}

	if len(plan.AfterStages) > 0 {
		for _, child := range plan.AfterStages {
			if err := h.deps.Repository.AddStage(ctx, execution.ID, child); err != nil {
				return err
			}

			execution.AddStage(child)
		}

		return h.deps.Queue.Push(ctx, newStartStage(execution.ID, plan.AfterStages[0].ID))
	}

	// Nothing to run at all: the stage completes immediately.
	return h.deps.Queue.Push(ctx, newCompleteStage(execution.ID, stage.ID, models.StatusSucceeded))
}

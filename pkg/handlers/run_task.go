package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gantry-io/gantry/pkg/exceptions"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/planner"
	"github.com/gantry-io/gantry/pkg/registry"
)

// RunTaskHandler executes one invocation of a task. A polling task that
// reports RUNNING is re-enqueued after its backoff period, so no worker ever
// blocks on slow external work.
type RunTaskHandler struct {
	deps Deps
}

func (h *RunTaskHandler) Handle(ctx context.Context, msg *messages.RunTask) error {
	return h.deps.withTask(ctx, msg, func(execution *models.Execution, stage *models.Stage, task *models.Task) error {
		// Run-state checks come before the task-type resolve: a canceled or
		// paused execution must settle this way even when the type is
		// unresolvable.
		if execution.Canceled || execution.Status.IsComplete() || execution.Status.IsHalt() {
			return h.completeTask(ctx, msg, models.StatusCanceled, models.StatusCanceled)
		}

		if execution.Status == models.StatusPaused {
			pause := &messages.PauseTask{TaskBase: taskBase(execution.ID, stage.ID, task.ID)}

			return h.deps.Queue.Push(ctx, pause)
		}

		if stage.IsManuallySkipped() {
			return h.completeTask(ctx, msg, models.StatusSkipped, models.StatusSkipped)
		}

		implementingType := msg.TaskType
		if implementingType == "" {
			implementingType = task.ImplementingType
		}

		impl, err := h.deps.Registry.ResolveTask(implementingType)
		if err != nil {
			h.deps.Logger.ErrorContext(ctx, "task type not registered",
				"executionId", execution.ID, "stageId", stage.ID, "taskId", task.ID, "taskType", implementingType)

			invalid := &messages.InvalidTaskType{
				TaskBase: taskBase(execution.ID, stage.ID, task.ID),
				TaskType: implementingType,
			}

			return h.deps.Queue.Push(ctx, invalid)
		}

		if timedOut, err := h.checkTimeout(ctx, msg, execution, stage, task, impl); err != nil || timedOut {
			return err
		}

		invocation := *stage
		invocation.Context = h.deps.Processor.Process(mergeContext(execution.Context, stage.Context), execution)

		result, err := impl.Execute(ctx, &invocation)
		if err != nil {
			return h.taskErrored(ctx, msg, execution, stage, task, err)
		}

		return h.taskReturned(ctx, msg, execution, stage, task, impl, result)
	})
}

// checkTimeout enforces the task's overall run budget. Elapsed time excludes
// pause windows and queue throttling so neither counts against the task.
func (h *RunTaskHandler) checkTimeout(ctx context.Context, msg *messages.RunTask, execution *models.Execution, stage *models.Stage, task *models.Task, impl registry.Task) (bool, error) {
	if stage.Type == planner.WindowStageType || task.StartTime == nil {
		return false, nil
	}

	timeout, hasOverride := stage.TimeoutOverride()
	if !hasOverride {
		rt, ok := impl.(registry.RetryableTask)
		if !ok {
			return false, nil
		}

		timeout = rt.Timeout()
	}

	if timeout <= 0 {
		return false, nil
	}

	now := h.deps.Now()
	elapsed := now.Sub(*task.StartTime) -
		execution.PausedDurationSince(*task.StartTime, now) -
		time.Duration(msg.Attrs().TotalThrottleTimeMs)*time.Millisecond

	if elapsed <= timeout {
		return false, nil
	}

	if stage.MarkSuccessfulOnTimeout() {
		h.deps.Logger.WarnContext(ctx, "task timed out, marking successful",
			"executionId", execution.ID, "stageId", stage.ID, "taskId", task.ID, "elapsed", elapsed)

		return true, h.completeTask(ctx, msg, models.StatusSucceeded, models.StatusSucceeded)
	}

	h.deps.Logger.ErrorContext(ctx, "task timed out",
		"executionId", execution.ID, "stageId", stage.ID, "taskId", task.ID,
		"elapsed", elapsed, "timeout", timeout)

	response := exceptions.Response{
		ExceptionType: "timeout",
		Operation:     task.Name,
		Error:         fmt.Sprintf("task %s timed out after %s", task.Name, elapsed),
	}

	if err := h.persistException(ctx, execution, stage, response); err != nil {
		return true, err
	}

	return true, h.completeTask(ctx, msg, stage.FailureStatus(models.StatusTerminal), models.StatusTerminal)
}

func (h *RunTaskHandler) taskErrored(ctx context.Context, msg *messages.RunTask, execution *models.Execution, stage *models.Stage, task *models.Task, err error) error {
	response, _ := h.deps.classify(task.Name, err)
	if response.ShouldRetry {
		h.deps.Logger.WarnContext(ctx, "task failed with recoverable error, retrying",
			"executionId", execution.ID, "stageId", stage.ID, "taskId", task.ID, "error", err)

		return h.deps.Queue.PushDelayed(ctx, msg, h.backoff(nil))
	}

	h.deps.Logger.ErrorContext(ctx, "task failed",
		"executionId", execution.ID, "stageId", stage.ID, "taskId", task.ID, "error", err)

	if err := h.persistException(ctx, execution, stage, response); err != nil {
		return err
	}

	return h.completeTask(ctx, msg, stage.FailureStatus(models.StatusTerminal), models.StatusTerminal)
}

func (h *RunTaskHandler) taskReturned(ctx context.Context, msg *messages.RunTask, execution *models.Execution, stage *models.Stage, task *models.Task, impl registry.Task, result registry.TaskResult) error {
	if result.Status != models.StatusRedirect {
		if err := h.persistOutputs(ctx, execution, stage, result); err != nil {
			return err
		}
	}

	switch result.Status {
	case models.StatusRunning:
		return h.deps.Queue.PushDelayed(ctx, msg, h.backoff(impl))

	case models.StatusSucceeded, models.StatusFailedContinue, models.StatusSkipped:
		return h.completeTask(ctx, msg, result.Status, result.Status)

	case models.StatusRedirect:
		return h.redirect(ctx, execution, stage, task)

	case models.StatusTerminal, models.StatusCanceled, models.StatusStopped:
		return h.completeTask(ctx, msg, stage.FailureStatus(result.Status), result.Status)

	default:
		h.deps.Logger.ErrorContext(ctx, "task returned unexpected status",
			"executionId", execution.ID, "stageId", stage.ID, "taskId", task.ID, "status", result.Status)

		return h.completeTask(ctx, msg, stage.FailureStatus(models.StatusTerminal), models.StatusTerminal)
	}
}

// redirect rewinds the enclosing loop window: every task in it resets to
// NOT_STARTED and execution resumes from the loop-start task. No completion
// event fires for the redirecting invocation.
func (h *RunTaskHandler) redirect(ctx context.Context, execution *models.Execution, stage *models.Stage, task *models.Task) error {
	window, ok := stage.LoopWindow(task)
	if !ok {
		h.deps.Logger.ErrorContext(ctx, "task redirected outside a loop window",
			"executionId", execution.ID, "stageId", stage.ID, "taskId", task.ID)

		invalid := &messages.InvalidTaskID{TaskBase: taskBase(execution.ID, stage.ID, task.ID)}

		return h.deps.Queue.Push(ctx, invalid)
	}

	for _, t := range window {
		t.Status = models.StatusNotStarted
		t.StartTime = nil
		t.EndTime = nil
	}

	if err := h.deps.Repository.StoreStage(ctx, execution.ID, stage); err != nil {
		return err
	}

	return h.deps.Queue.Push(ctx, newRunTask(execution.ID, stage.ID, window[0]))
}

func (h *RunTaskHandler) completeTask(ctx context.Context, msg *messages.RunTask, status, original models.Status) error {
	return h.deps.Queue.Push(ctx, newCompleteTask(msg.GetExecutionID(), msg.GetStageID(), msg.GetTaskID(), status, original))
}

func (h *RunTaskHandler) persistException(ctx context.Context, execution *models.Execution, stage *models.Stage, response exceptions.Response) error {
	if stage.Context == nil {
		stage.Context = map[string]any{}
	}

	stage.Context["exception"] = response

	return h.deps.Repository.StoreStage(ctx, execution.ID, stage)
}

// persistOutputs merges a task result into the stage. The per-stage timeout
// override never propagates through outputs.
func (h *RunTaskHandler) persistOutputs(ctx context.Context, execution *models.Execution, stage *models.Stage, result registry.TaskResult) error {
	if len(result.Context) == 0 && len(result.Outputs) == 0 {
		return nil
	}

	if stage.Context == nil {
		stage.Context = map[string]any{}
	}

	for k, v := range result.Context {
		if k == "stageTimeoutMs" {
			continue
		}

		stage.Context[k] = v
	}

	if len(result.Outputs) > 0 && stage.Outputs == nil {
		stage.Outputs = map[string]any{}
	}

	for k, v := range result.Outputs {
		stage.Outputs[k] = v
	}

	return h.deps.Repository.StoreStage(ctx, execution.ID, stage)
}

func (h *RunTaskHandler) backoff(impl registry.Task) time.Duration {
	if rt, ok := impl.(registry.RetryableTask); ok && rt.BackoffPeriod() > 0 {
		return rt.BackoffPeriod()
	}

	return DefaultBackoffPeriod
}

// mergeContext overlays stage context on the execution's global context.
func mergeContext(global, stage map[string]any) map[string]any {
	merged := make(map[string]any, len(global)+len(stage))

	for k, v := range global {
		merged[k] = v
	}

	for k, v := range stage {
		merged[k] = v
	}

	return merged
}

// Package handlers implements the engine's message handlers: one per
// command in the vocabulary. Handlers never call each other; every effect
// beyond the current execution's persisted state is expressed as a further
// message push.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/gantry-io/gantry/pkg/admission"
	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/exceptions"
	"github.com/gantry-io/gantry/pkg/expressions"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/persistence"
	"github.com/gantry-io/gantry/pkg/planner"
	"github.com/gantry-io/gantry/pkg/queue"
	"github.com/gantry-io/gantry/pkg/registry"
)

const (
	// DefaultRetryDelay is the poll interval for cooperative waiting: on
	// upstream stages, sibling branches and running tasks.
	DefaultRetryDelay = 10 * time.Second

	// DefaultBackoffPeriod applies to tasks that don't declare their own.
	DefaultBackoffPeriod = 1 * time.Second
)

// Deps are the injected collaborators shared by every handler. No handler
// keeps state of its own.
type Deps struct {
	Queue             queue.Queue
	Repository        persistence.ExecutionRepository
	Registry          *registry.Registry
	Planner           *planner.Planner
	Processor         *expressions.Processor
	ExceptionHandlers []exceptions.Handler
	Events            events.Publisher
	Waiting           admission.WaitingQueue
	Now               func() time.Time
	Logger            *slog.Logger
	RetryDelay        time.Duration
}

func (d *Deps) defaults() {
	if d.RetryDelay == 0 {
		d.RetryDelay = DefaultRetryDelay
	}

	if d.Now == nil {
		d.Now = time.Now
	}

	if d.ExceptionHandlers == nil {
		d.ExceptionHandlers = exceptions.DefaultChain()
	}

	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// Handlers aggregates every message handler over one set of collaborators.
type Handlers struct {
	StartExecution         *StartExecutionHandler
	RescheduleExecution    *RescheduleExecutionHandler
	StartWaitingExecutions *StartWaitingExecutionsHandler
	CompleteExecution      *CompleteExecutionHandler
	CancelExecution        *CancelExecutionHandler
	ResumeExecution        *ResumeExecutionHandler
	StartStage             *StartStageHandler
	CompleteStage          *CompleteStageHandler
	ContinueParentStage    *ContinueParentStageHandler
	SkipStage              *SkipStageHandler
	AbortStage             *AbortStageHandler
	CancelStage            *CancelStageHandler
	PauseStage             *PauseStageHandler
	ResumeStage            *ResumeStageHandler
	RestartStage           *RestartStageHandler
	StartTask              *StartTaskHandler
	RunTask                *RunTaskHandler
	CompleteTask           *CompleteTaskHandler
	PauseTask              *PauseTaskHandler
	ResumeTask             *ResumeTaskHandler
	Invalid                *InvalidMessageHandler
}

func New(deps Deps) *Handlers {
	deps.defaults()

	return &Handlers{
		StartExecution:         &StartExecutionHandler{deps},
		RescheduleExecution:    &RescheduleExecutionHandler{deps},
		StartWaitingExecutions: &StartWaitingExecutionsHandler{deps},
		CompleteExecution:      &CompleteExecutionHandler{deps},
		CancelExecution:        &CancelExecutionHandler{deps},
		ResumeExecution:        &ResumeExecutionHandler{deps},
		StartStage:             &StartStageHandler{deps},
		CompleteStage:          &CompleteStageHandler{deps},
		ContinueParentStage:    &ContinueParentStageHandler{deps},
		SkipStage:              &SkipStageHandler{deps},
		AbortStage:             &AbortStageHandler{deps},
		CancelStage:            &CancelStageHandler{deps},
		PauseStage:             &PauseStageHandler{deps},
		ResumeStage:            &ResumeStageHandler{deps},
		RestartStage:           &RestartStageHandler{deps},
		StartTask:              &StartTaskHandler{deps},
		RunTask:                &RunTaskHandler{deps},
		CompleteTask:           &CompleteTaskHandler{deps},
		PauseTask:              &PauseTaskHandler{deps},
		ResumeTask:             &ResumeTaskHandler{deps},
		Invalid:                &InvalidMessageHandler{deps},
	}
}

// Route dispatches a decoded message to its handler.
func (h *Handlers) Route(ctx context.Context, msg messages.Message) error {
	switch m := msg.(type) {
	case *messages.StartExecution:
		return h.StartExecution.Handle(ctx, m)
	case *messages.RescheduleExecution:
		return h.RescheduleExecution.Handle(ctx, m)
	case *messages.StartWaitingExecutions:
		return h.StartWaitingExecutions.Handle(ctx, m)
	case *messages.CompleteExecution:
		return h.CompleteExecution.Handle(ctx, m)
	case *messages.CancelExecution:
		return h.CancelExecution.Handle(ctx, m)
	case *messages.ResumeExecution:
		return h.ResumeExecution.Handle(ctx, m)
	case *messages.StartStage:
		return h.StartStage.Handle(ctx, m)
	case *messages.CompleteStage:
		return h.CompleteStage.Handle(ctx, m)
	case *messages.ContinueParentStage:
		return h.ContinueParentStage.Handle(ctx, m)
	case *messages.SkipStage:
		return h.SkipStage.Handle(ctx, m)
	case *messages.AbortStage:
		return h.AbortStage.Handle(ctx, m)
	case *messages.CancelStage:
		return h.CancelStage.Handle(ctx, m)
	case *messages.PauseStage:
		return h.PauseStage.Handle(ctx, m)
	case *messages.ResumeStage:
		return h.ResumeStage.Handle(ctx, m)
	case *messages.RestartStage:
		return h.RestartStage.Handle(ctx, m)
	case *messages.StartTask:
		return h.StartTask.Handle(ctx, m)
	case *messages.RunTask:
		return h.RunTask.Handle(ctx, m)
	case *messages.CompleteTask:
		return h.CompleteTask.Handle(ctx, m)
	case *messages.PauseTask:
		return h.PauseTask.Handle(ctx, m)
	case *messages.ResumeTask:
		return h.ResumeTask.Handle(ctx, m)
	case *messages.InvalidExecutionID, *messages.InvalidStageID, *messages.InvalidTaskID,
		*messages.InvalidTaskType, *messages.NoDownstreamTasks:
		return h.Invalid.Handle(ctx, msg)
	default:
		return &UnroutableMessageError{Message: msg}
	}
}

// UnroutableMessageError is returned for a message no handler claims; the
// dispatcher resolves it through the dead-letter policy.
type UnroutableMessageError struct {
	Message messages.Message
}

func (e *UnroutableMessageError) Error() string {
	return "no handler registered for message type " + string(e.Message.MessageType())
}

// classify runs an error through the configured exception-handler chain.
func (d *Deps) classify(operation string, err error) (exceptions.Response, bool) {
	return exceptions.Classify(d.ExceptionHandlers, operation, err)
}

// withExecution loads the execution a message targets, converting a missing
// id into an InvalidExecutionID signal instead of an error.
func (d *Deps) withExecution(ctx context.Context, msg messages.Message, fn func(*models.Execution) error) error {
	execution, err := d.Repository.Retrieve(ctx, msg.GetExecutionID())
	if persistence.IsExecutionNotFound(err) {
		d.Logger.WarnContext(ctx, "execution not found", "executionId", msg.GetExecutionID(), "messageType", msg.MessageType())

		invalid := &messages.InvalidExecutionID{}
		invalid.ExecutionID = msg.GetExecutionID()

		return d.Queue.Push(ctx, invalid)
	}

	if err != nil {
		return err
	}

	return fn(execution)
}

// withStage loads the execution plus the stage a message targets.
func (d *Deps) withStage(ctx context.Context, msg messages.StageLevel, fn func(*models.Execution, *models.Stage) error) error {
	return d.withExecution(ctx, msg, func(execution *models.Execution) error {
		stage := execution.StageByID(msg.GetStageID())
		if stage == nil {
			d.Logger.WarnContext(ctx, "stage not found",
				"executionId", execution.ID, "stageId", msg.GetStageID(), "messageType", msg.MessageType())

			invalid := &messages.InvalidStageID{}
			invalid.ExecutionID = execution.ID
			invalid.StageID = msg.GetStageID()

			return d.Queue.Push(ctx, invalid)
		}

		return fn(execution, stage)
	})
}

// withTask loads the execution, stage and task a message targets.
func (d *Deps) withTask(ctx context.Context, msg messages.TaskLevel, fn func(*models.Execution, *models.Stage, *models.Task) error) error {
	return d.withStage(ctx, msg, func(execution *models.Execution, stage *models.Stage) error {
		task := stage.TaskByID(msg.GetTaskID())
		if task == nil {
			d.Logger.WarnContext(ctx, "task not found",
				"executionId", execution.ID, "stageId", stage.ID, "taskId", msg.GetTaskID(), "messageType", msg.MessageType())

			invalid := &messages.InvalidTaskID{}
			invalid.ExecutionID = execution.ID
			invalid.StageID = stage.ID
			invalid.TaskID = msg.GetTaskID()

			return d.Queue.Push(ctx, invalid)
		}

		return fn(execution, stage, task)
	})
}

func stageBase(executionID, stageID string) messages.StageBase {
	return messages.StageBase{
		Base:    messages.Base{ExecutionID: executionID},
		StageID: stageID,
	}
}

func newStartStage(executionID, stageID string) *messages.StartStage {
	return &messages.StartStage{StageBase: stageBase(executionID, stageID)}
}

func newCompleteStage(executionID, stageID string, status models.Status) *messages.CompleteStage {
	return &messages.CompleteStage{StageBase: stageBase(executionID, stageID), Status: status}
}

func newCancelStage(executionID, stageID string) *messages.CancelStage {
	return &messages.CancelStage{StageBase: stageBase(executionID, stageID)}
}

func newCompleteExecution(executionID string) *messages.CompleteExecution {
	msg := &messages.CompleteExecution{}
	msg.ExecutionID = executionID

	return msg
}

func taskBase(executionID, stageID, taskID string) messages.TaskBase {
	return messages.TaskBase{
		StageBase: stageBase(executionID, stageID),
		TaskID:    taskID,
	}
}

func newStartTask(executionID, stageID, taskID string) *messages.StartTask {
	return &messages.StartTask{TaskBase: taskBase(executionID, stageID, taskID)}
}

func newRunTask(executionID, stageID string, task *models.Task) *messages.RunTask {
	return &messages.RunTask{
		TaskBase: taskBase(executionID, stageID, task.ID),
		TaskType: task.ImplementingType,
	}
}

func newCompleteTask(executionID, stageID, taskID string, status, original models.Status) *messages.CompleteTask {
	return &messages.CompleteTask{
		TaskBase:       taskBase(executionID, stageID, taskID),
		Status:         status,
		OriginalStatus: original,
	}
}

func newContinueParentStage(executionID, parentID string, phase models.SyntheticOwner) *messages.ContinueParentStage {
	return &messages.ContinueParentStage{
		StageBase: stageBase(executionID, parentID),
		Phase:     phase,
	}
}

// nextBeforeBatch returns the BEFORE-phase children to start after the given
// child completes ("" for phase start). Sequential children chain one at a
// time; a run of parallel branches starts together. An empty result means
// the phase has no further children to start.
func nextBeforeBatch(execution *models.Execution, parent *models.Stage, afterChildID string) []*models.Stage {
	children := execution.SyntheticChildren(parent.ID, models.SyntheticBefore)
	if len(children) == 0 {
		return nil
	}

	start := 0

	if afterChildID != "" {
		idx := -1

		for i, child := range children {
			if child.ID == afterChildID {
				idx = i

				break
			}
		}

		if idx == -1 {
			return nil
		}

		start = idx + 1
	}

	if start >= len(children) {
		return nil
	}

	next := children[start]
	if !next.IsParallelBranch() {
		return []*models.Stage{next}
	}

	// All remaining branches launch concurrently.
	var batch []*models.Stage

	for _, child := range children[start:] {
		if child.IsParallelBranch() && child.Status == models.StatusNotStarted {
			batch = append(batch, child)
		}
	}

	return batch
}

// nextAfterStage returns the AFTER-phase child to start following the given
// one, or nil when the phase is exhausted. AFTER stages always run
// sequentially.
func nextAfterStage(execution *models.Execution, parent *models.Stage, afterChildID string) *models.Stage {
	children := execution.SyntheticChildren(parent.ID, models.SyntheticAfter)

	if afterChildID == "" {
		if len(children) == 0 {
			return nil
		}

		return children[0]
	}

	for i, child := range children {
		if child.ID == afterChildID && i+1 < len(children) {
			return children[i+1]
		}
	}

	return nil
}

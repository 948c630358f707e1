// Package messages defines the command vocabulary of the engine. Messages are
// the only way components communicate: every state change is driven by a
// message consumed from the queue, and handlers emit further messages rather
// than calling each other.
package messages

import (
	"github.com/gantry-io/gantry/pkg/models"
)

type Type string

const (
	StartExecutionType         Type = "startExecution"
	RescheduleExecutionType    Type = "rescheduleExecution"
	StartWaitingExecutionsType Type = "startWaitingExecutions"
	CompleteExecutionType      Type = "completeExecution"
	CancelExecutionType        Type = "cancelExecution"
	ResumeExecutionType        Type = "resumeExecution"

	StartStageType          Type = "startStage"
	CompleteStageType       Type = "completeStage"
	ContinueParentStageType Type = "continueParentStage"
	SkipStageType           Type = "skipStage"
	AbortStageType          Type = "abortStage"
	CancelStageType         Type = "cancelStage"
	PauseStageType          Type = "pauseStage"
	ResumeStageType         Type = "resumeStage"
	RestartStageType        Type = "restartStage"

	StartTaskType    Type = "startTask"
	RunTaskType      Type = "runTask"
	CompleteTaskType Type = "completeTask"
	PauseTaskType    Type = "pauseTask"
	ResumeTaskType   Type = "resumeTask"

	InvalidExecutionIDType Type = "invalidExecutionId"
	InvalidStageIDType     Type = "invalidStageId"
	InvalidTaskIDType      Type = "invalidTaskId"
	InvalidTaskTypeType    Type = "invalidTaskType"
	NoDownstreamTasksType  Type = "noDownstreamTasks"
)

// Message is a queue command. Attrs returns the mutable per-message
// attributes the queue uses for throttle-time accounting, attempt counting
// and dead-letter marking.
type Message interface {
	MessageType() Type
	GetExecutionID() string
	Attrs() *Attributes
}

// StageLevel is implemented by messages scoped to a single stage.
type StageLevel interface {
	Message
	GetStageID() string
}

// TaskLevel is implemented by messages scoped to a single task.
type TaskLevel interface {
	StageLevel
	GetTaskID() string
}

// Base carries the fields shared by every command.
type Base struct {
	ExecutionID string     `json:"executionId"`
	Attributes  Attributes `json:"attributes,omitzero"`
}

func (b *Base) GetExecutionID() string { return b.ExecutionID }
func (b *Base) Attrs() *Attributes     { return &b.Attributes }

// StageBase extends Base for stage-scoped commands.
type StageBase struct {
	Base

	StageID string `json:"stageId"`
}

func (b *StageBase) GetStageID() string { return b.StageID }

// TaskBase extends StageBase for task-scoped commands.
type TaskBase struct {
	StageBase

	TaskID string `json:"taskId"`
}

func (b *TaskBase) GetTaskID() string { return b.TaskID }

// Execution-level commands.

type StartExecution struct{ Base }

func (StartExecution) MessageType() Type { return StartExecutionType }

type RescheduleExecution struct{ Base }

func (RescheduleExecution) MessageType() Type { return RescheduleExecutionType }

// StartWaitingExecutions releases executions deferred by the per-pipeline
// concurrency limit. PurgeQueue starts the newest waiting execution and
// cancels the rest.
type StartWaitingExecutions struct {
	Base

	PipelineConfigID string `json:"pipelineConfigId"`
	PurgeQueue       bool   `json:"purgeQueue"`
}

func (StartWaitingExecutions) MessageType() Type { return StartWaitingExecutionsType }

type CompleteExecution struct{ Base }

func (CompleteExecution) MessageType() Type { return CompleteExecutionType }

type CancelExecution struct {
	Base

	Reason     string `json:"reason,omitempty"`
	CanceledBy string `json:"canceledBy,omitempty"`
}

func (CancelExecution) MessageType() Type { return CancelExecutionType }

type ResumeExecution struct {
	Base

	ResumedBy string `json:"resumedBy,omitempty"`
}

func (ResumeExecution) MessageType() Type { return ResumeExecutionType }

// Stage-level commands.

type StartStage struct{ StageBase }

func (StartStage) MessageType() Type { return StartStageType }

type CompleteStage struct {
	StageBase

	Status models.Status `json:"status"`
}

func (CompleteStage) MessageType() Type { return CompleteStageType }

// ContinueParentStage is the join signal: a synthetic stage finished, so the
// parent re-evaluates the named phase's siblings.
type ContinueParentStage struct {
	StageBase

	Phase models.SyntheticOwner `json:"phase"`
}

func (ContinueParentStage) MessageType() Type { return ContinueParentStageType }

type SkipStage struct{ StageBase }

func (SkipStage) MessageType() Type { return SkipStageType }

type AbortStage struct{ StageBase }

func (AbortStage) MessageType() Type { return AbortStageType }

type CancelStage struct{ StageBase }

func (CancelStage) MessageType() Type { return CancelStageType }

type PauseStage struct{ StageBase }

func (PauseStage) MessageType() Type { return PauseStageType }

type ResumeStage struct{ StageBase }

func (ResumeStage) MessageType() Type { return ResumeStageType }

type RestartStage struct {
	StageBase

	RestartedBy string `json:"restartedBy,omitempty"`
}

func (RestartStage) MessageType() Type { return RestartStageType }

// Task-level commands.

type StartTask struct{ TaskBase }

func (StartTask) MessageType() Type { return StartTaskType }

type RunTask struct {
	TaskBase

	TaskType string `json:"taskType"`
}

func (RunTask) MessageType() Type { return RunTaskType }

// CompleteTask carries both the resolved status (after failPipeline /
// continuePipeline mapping) and the status the task actually returned.
type CompleteTask struct {
	TaskBase

	Status         models.Status `json:"status"`
	OriginalStatus models.Status `json:"originalStatus,omitempty"`
}

func (CompleteTask) MessageType() Type { return CompleteTaskType }

type PauseTask struct{ TaskBase }

func (PauseTask) MessageType() Type { return PauseTaskType }

type ResumeTask struct {
	TaskBase

	TaskType string `json:"taskType"`
}

func (ResumeTask) MessageType() Type { return ResumeTaskType }

// Configuration-error signals. All resolve to marking the execution
// TERMINAL; they exist so malformed references surface as ordinary messages
// instead of handler panics.

type InvalidExecutionID struct{ Base }

func (InvalidExecutionID) MessageType() Type { return InvalidExecutionIDType }

type InvalidStageID struct{ StageBase }

func (InvalidStageID) MessageType() Type { return InvalidStageIDType }

type InvalidTaskID struct{ TaskBase }

func (InvalidTaskID) MessageType() Type { return InvalidTaskIDType }

type InvalidTaskType struct {
	TaskBase

	TaskType string `json:"taskType"`
}

func (InvalidTaskType) MessageType() Type { return InvalidTaskTypeType }

// NoDownstreamTasks signals a stage completed but nothing could be derived
// to run next, which indicates a malformed graph.
type NoDownstreamTasks struct{ StageBase }

func (NoDownstreamTasks) MessageType() Type { return NoDownstreamTasksType }

// Package events defines the lifecycle notifications the engine publishes
// for reporting systems. Events are fire-and-forget: nothing in the engine
// depends on them being consumed.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/gantry-io/gantry/pkg/models"
)

type EventType string

const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent  EventType = "execution.started"
	ExecutionCompleteEvent EventType = "execution.complete"
	StageStartedEvent      EventType = "stage.started"
	StageCompleteEvent     EventType = "stage.complete"
	TaskStartedEvent       EventType = "task.started"
	TaskCompleteEvent      EventType = "task.complete"
)

type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	ExecutionID string    `json:"executionId"`
	Application string    `json:"application,omitempty"`
}

func NewBaseEvent(eventType EventType, execution *models.Execution) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: execution.ID,
		Application: execution.Application,
	}
}

type ExecutionStarted struct {
	BaseEvent
}

func (ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionComplete struct {
	BaseEvent

	Status models.Status `json:"status"`
}

func (ExecutionComplete) GetType() EventType { return ExecutionCompleteEvent }

type StageStarted struct {
	BaseEvent

	StageID   string `json:"stageId"`
	StageType string `json:"stageType"`
}

func (StageStarted) GetType() EventType { return StageStartedEvent }

type StageComplete struct {
	BaseEvent

	StageID   string        `json:"stageId"`
	StageType string        `json:"stageType"`
	Status    models.Status `json:"status"`
}

func (StageComplete) GetType() EventType { return StageCompleteEvent }

type TaskStarted struct {
	BaseEvent

	StageID string `json:"stageId"`
	TaskID  string `json:"taskId"`
}

func (TaskStarted) GetType() EventType { return TaskStartedEvent }

type TaskComplete struct {
	BaseEvent

	StageID string        `json:"stageId"`
	TaskID  string        `json:"taskId"`
	Status  models.Status `json:"status"`
}

func (TaskComplete) GetType() EventType { return TaskCompleteEvent }

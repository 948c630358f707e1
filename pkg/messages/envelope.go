package messages

import (
	"encoding/json"
	"fmt"
)

const TypeMetadataKey = "message_type"

type envelope struct {
	Type    Type            `json:"messageType"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal wraps a message in its wire envelope.
func Marshal(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.MessageType(), err)
	}

	return json.Marshal(envelope{Type: msg.MessageType(), Payload: payload})
}

// Unmarshal decodes a wire envelope back into its typed message.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}

	msg, err := New(env.Type)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}

	return msg, nil
}

// New returns a zero value of the message struct for the given type.
func New(t Type) (Message, error) {
	switch t {
	case StartExecutionType:
		return &StartExecution{}, nil
	case RescheduleExecutionType:
		return &RescheduleExecution{}, nil
	case StartWaitingExecutionsType:
		return &StartWaitingExecutions{}, nil
	case CompleteExecutionType:
		return &CompleteExecution{}, nil
	case CancelExecutionType:
		return &CancelExecution{}, nil
	case ResumeExecutionType:
		return &ResumeExecution{}, nil
	case StartStageType:
		return &StartStage{}, nil
	case CompleteStageType:
		return &CompleteStage{}, nil
	case ContinueParentStageType:
		return &ContinueParentStage{}, nil
	case SkipStageType:
		return &SkipStage{}, nil
	case AbortStageType:
		return &AbortStage{}, nil
	case CancelStageType:
		return &CancelStage{}, nil
	case PauseStageType:
		return &PauseStage{}, nil
	case ResumeStageType:
		return &ResumeStage{}, nil
	case RestartStageType:
		return &RestartStage{}, nil
	case StartTaskType:
		return &StartTask{}, nil
	case RunTaskType:
		return &RunTask{}, nil
	case CompleteTaskType:
		return &CompleteTask{}, nil
	case PauseTaskType:
		return &PauseTask{}, nil
	case ResumeTaskType:
		return &ResumeTask{}, nil
	case InvalidExecutionIDType:
		return &InvalidExecutionID{}, nil
	case InvalidStageIDType:
		return &InvalidStageID{}, nil
	case InvalidTaskIDType:
		return &InvalidTaskID{}, nil
	case InvalidTaskTypeType:
		return &InvalidTaskType{}, nil
	case NoDownstreamTasksType:
		return &NoDownstreamTasks{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", t)
	}
}

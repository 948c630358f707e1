package web

import "time"

// SubmitExecutionRequest is the payload for starting a pipeline execution.
type SubmitExecutionRequest struct {
	Application      string                  `json:"application"      validate:"required"`
	Name             string                  `json:"name"`
	PipelineConfigID string                  `json:"pipelineConfigId"`
	LimitConcurrent  bool                    `json:"limitConcurrent"`
	Context          map[string]any          `json:"context"`
	Trigger          map[string]any          `json:"trigger"`
	StartTimeExpiry  *time.Time              `json:"startTimeExpiry"`
	Stages           []StageDefinitionInput  `json:"stages"           validate:"required,min=1,dive"`
}

// StageDefinitionInput is one authored stage of a submitted pipeline.
type StageDefinitionInput struct {
	RefID                string         `json:"refId" validate:"required"`
	Type                 string         `json:"type"  validate:"required"`
	Name                 string         `json:"name"`
	RequisiteStageRefIDs []string       `json:"requisiteStageRefIds"`
	Context              map[string]any `json:"context"`
}

type CancelExecutionRequest struct {
	Reason     string `json:"reason"`
	CanceledBy string `json:"canceledBy"`
}

type PauseExecutionRequest struct {
	PausedBy string `json:"pausedBy"`
}

type ResumeExecutionRequest struct {
	ResumedBy string `json:"resumedBy"`
}

type RestartStageRequest struct {
	RestartedBy string `json:"restartedBy"`
}

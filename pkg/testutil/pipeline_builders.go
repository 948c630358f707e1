// Package testutil provides compact builders for the execution fixtures the
// handler and planner tests assemble over and over.
package testutil

import (
	"time"

	"github.com/gantry-io/gantry/pkg/models"
)

type StageOption func(*models.Stage)

func WithRequisites(refIDs ...string) StageOption {
	return func(s *models.Stage) { s.RequisiteStageRefIDs = refIDs }
}

func WithStageStatus(status models.Status) StageOption {
	return func(s *models.Stage) {
		s.Status = status

		if status.IsRunning() || status.IsComplete() {
			start := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
			s.StartTime = &start
		}

		if status.IsComplete() {
			end := time.Date(2024, 5, 1, 11, 30, 0, 0, time.UTC)
			s.EndTime = &end
		}
	}
}

func WithStageContext(key string, value any) StageOption {
	return func(s *models.Stage) { s.Context[key] = value }
}

func WithTasks(tasks ...*models.Task) StageOption {
	return func(s *models.Stage) { s.Tasks = tasks }
}

// WithSyntheticOwner links the stage under a parent for the given phase.
func WithSyntheticOwner(parentID string, phase models.SyntheticOwner) StageOption {
	return func(s *models.Stage) {
		s.ParentStageID = parentID
		s.SyntheticStageOwner = phase
	}
}

func Stage(id, refID, stageType string, opts ...StageOption) *models.Stage {
	stage := &models.Stage{
		ID:      id,
		RefID:   refID,
		Type:    stageType,
		Name:    stageType,
		Status:  models.StatusNotStarted,
		Context: map[string]any{},
	}

	for _, opt := range opts {
		opt(stage)
	}

	return stage
}

type TaskOption func(*models.Task)

func WithTaskStatus(status models.Status) TaskOption {
	return func(t *models.Task) {
		t.Status = status

		if status.IsRunning() || status.IsComplete() {
			start := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
			t.StartTime = &start
		}

		if status.IsComplete() {
			end := time.Date(2024, 5, 1, 11, 30, 0, 0, time.UTC)
			t.EndTime = &end
		}
	}
}

func WithLoopMarkers(start, end bool) TaskOption {
	return func(t *models.Task) {
		t.LoopStart = start
		t.LoopEnd = end
	}
}

func Task(id, name, implementingType string, stageStart, stageEnd bool, opts ...TaskOption) *models.Task {
	task := &models.Task{
		ID:               id,
		Name:             name,
		ImplementingType: implementingType,
		Status:           models.StatusNotStarted,
		StageStart:       stageStart,
		StageEnd:         stageEnd,
	}

	for _, opt := range opts {
		opt(task)
	}

	return task
}

type ExecutionOption func(*models.Execution)

func WithExecutionStatus(status models.Status) ExecutionOption {
	return func(e *models.Execution) { e.Status = status }
}

func WithConcurrencyLimit(pipelineConfigID string) ExecutionOption {
	return func(e *models.Execution) {
		e.PipelineConfigID = pipelineConfigID
		e.LimitConcurrent = true
	}
}

func WithStartTimeExpiry(expiry time.Time) ExecutionOption {
	return func(e *models.Execution) { e.StartTimeExpiry = &expiry }
}

func WithCanceled(canceledBy string) ExecutionOption {
	return func(e *models.Execution) {
		e.Canceled = true
		e.CanceledBy = canceledBy
	}
}

func Execution(id string, stages []*models.Stage, opts ...ExecutionOption) *models.Execution {
	execution := &models.Execution{
		ID:          id,
		Application: "testapp",
		Name:        "test pipeline",
		Status:      models.StatusRunning,
		Context:     map[string]any{},
		Trigger:     map[string]any{},
		Stages:      stages,
	}

	for _, opt := range opts {
		opt(execution)
	}

	return execution
}

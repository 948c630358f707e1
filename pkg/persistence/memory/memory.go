// Package memory provides an in-memory execution repository for tests and
// local development. Every operation holds the store lock for its full
// read-modify-write, so concurrent handlers for the same execution
// serialize, matching the contract the engine assumes of real backends.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/persistence"
)

type Repository struct {
	mu         sync.Mutex
	executions map[string]*models.Execution
	now        func() time.Time
}

func NewRepository() *Repository {
	return &Repository{
		executions: make(map[string]*models.Execution),
		now:        time.Now,
	}
}

// WithClock overrides the wall clock used for pause/resume/cancel stamps.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now

	return r
}

func (r *Repository) Retrieve(_ context.Context, id string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, persistence.NewExecutionError("Retrieve", id, persistence.ErrExecutionNotFound)
	}

	return clone(execution)
}

func (r *Repository) Store(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := clone(execution)
	if err != nil {
		return persistence.NewExecutionError("Store", execution.ID, err)
	}

	r.executions[execution.ID] = stored

	return nil
}

func (r *Repository) StoreStage(_ context.Context, executionID string, stage *models.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[executionID]
	if !ok {
		return persistence.NewStageError("StoreStage", executionID, stage.ID, persistence.ErrExecutionNotFound)
	}

	existing := execution.StageByID(stage.ID)
	if existing == nil {
		return persistence.NewStageError("StoreStage", executionID, stage.ID, persistence.ErrStageNotFound)
	}

	copied := &models.Stage{}
	if err := reclone(stage, copied); err != nil {
		return persistence.NewStageError("StoreStage", executionID, stage.ID, err)
	}

	*existing = *copied

	return nil
}

func (r *Repository) AddStage(_ context.Context, executionID string, stage *models.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[executionID]
	if !ok {
		return persistence.NewStageError("AddStage", executionID, stage.ID, persistence.ErrExecutionNotFound)
	}

	copied := &models.Stage{}
	if err := reclone(stage, copied); err != nil {
		return persistence.NewStageError("AddStage", executionID, stage.ID, err)
	}

	execution.AddStage(copied)

	return nil
}

func (r *Repository) RemoveStage(_ context.Context, executionID, stageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[executionID]
	if !ok {
		return persistence.NewStageError("RemoveStage", executionID, stageID, persistence.ErrExecutionNotFound)
	}

	execution.RemoveStage(stageID)

	return nil
}

func (r *Repository) UpdateStatus(_ context.Context, id string, status models.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return persistence.NewExecutionError("UpdateStatus", id, persistence.ErrExecutionNotFound)
	}

	execution.Status = status

	now := r.now()

	if status == models.StatusRunning && execution.StartTime == nil {
		execution.StartTime = &now
	}

	if status.IsComplete() && execution.EndTime == nil {
		execution.EndTime = &now
	}

	return nil
}

func (r *Repository) Cancel(_ context.Context, id, canceledBy, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return persistence.NewExecutionError("Cancel", id, persistence.ErrExecutionNotFound)
	}

	execution.Canceled = true
	execution.CanceledBy = canceledBy

	if reason != "" {
		execution.CancellationReason = reason
	}

	return nil
}

func (r *Repository) Pause(_ context.Context, id, pausedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return persistence.NewExecutionError("Pause", id, persistence.ErrExecutionNotFound)
	}

	if execution.Status != models.StatusRunning {
		return persistence.NewExecutionError(
			"Pause", id, fmt.Errorf("unable to pause execution with status %s", execution.Status))
	}

	now := r.now()
	execution.Status = models.StatusPaused
	execution.Paused = &models.PausedDetails{PausedBy: pausedBy, PauseTime: &now}

	return nil
}

func (r *Repository) Resume(_ context.Context, id, resumedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return persistence.NewExecutionError("Resume", id, persistence.ErrExecutionNotFound)
	}

	now := r.now()
	execution.Status = models.StatusRunning

	if execution.Paused != nil {
		execution.Paused.ResumedBy = resumedBy
		execution.Paused.ResumeTime = &now
	}

	return nil
}

func (r *Repository) RunningExecutionIDsForConfig(_ context.Context, pipelineConfigID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string

	for _, execution := range r.executions {
		if execution.PipelineConfigID == pipelineConfigID && execution.Status == models.StatusRunning {
			ids = append(ids, execution.ID)
		}
	}

	return ids, nil
}

func (r *Repository) HealthCheck(context.Context) error { return nil }

func (r *Repository) Close(context.Context) error { return nil }

func clone(execution *models.Execution) (*models.Execution, error) {
	copied := &models.Execution{}
	if err := reclone(execution, copied); err != nil {
		return nil, err
	}

	return copied, nil
}

func reclone(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}

	return json.Unmarshal(data, dst)
}

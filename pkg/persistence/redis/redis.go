// Package redis provides a Redis-backed execution repository. Each execution
// is one JSON document; partial mutations run under WATCH so concurrent
// handlers for the same execution id serialize through optimistic retries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/persistence"
)

const (
	executionKeyPrefix = "gantry:execution:"
	runningSetPrefix   = "gantry:config:running:"

	// Optimistic transaction retries before giving up on a contended key.
	maxTxRetries = 10
)

type Repository struct {
	client *goredis.Client
	now    func() time.Time
}

func NewRepository(client *goredis.Client) *Repository {
	return &Repository{client: client, now: time.Now}
}

// WithClock overrides the wall clock used for pause/resume/cancel stamps.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now

	return r
}

func executionKey(id string) string { return executionKeyPrefix + id }

func runningSetKey(configID string) string { return runningSetPrefix + configID }

func (r *Repository) Retrieve(ctx context.Context, id string) (*models.Execution, error) {
	data, err := r.client.Get(ctx, executionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, persistence.NewExecutionError("Retrieve", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("Retrieve", id, err)
	}

	execution := &models.Execution{}
	if err := json.Unmarshal(data, execution); err != nil {
		return nil, persistence.NewExecutionError("Retrieve", id, fmt.Errorf("failed to decode execution: %w", err))
	}

	return execution, nil
}

func (r *Repository) Store(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Store", execution.ID, fmt.Errorf("failed to encode execution: %w", err))
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, executionKey(execution.ID), data, 0)
	r.trackRunning(ctx, pipe, execution)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewExecutionError("Store", execution.ID, err)
	}

	return nil
}

// trackRunning keeps the per-configuration running index in step with the
// stored document.
func (r *Repository) trackRunning(ctx context.Context, pipe goredis.Pipeliner, execution *models.Execution) {
	if execution.PipelineConfigID == "" {
		return
	}

	key := runningSetKey(execution.PipelineConfigID)
	if execution.Status == models.StatusRunning {
		pipe.SAdd(ctx, key, execution.ID)
	} else {
		pipe.SRem(ctx, key, execution.ID)
	}
}

// mutate applies fn to the stored document under WATCH, retrying on
// concurrent modification.
func (r *Repository) mutate(ctx context.Context, op, id string, fn func(*models.Execution) error) error {
	key := executionKey(id)

	txn := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return persistence.ErrExecutionNotFound
		}

		if err != nil {
			return err
		}

		execution := &models.Execution{}
		if err := json.Unmarshal(data, execution); err != nil {
			return fmt.Errorf("failed to decode execution: %w", err)
		}

		if err := fn(execution); err != nil {
			return err
		}

		updated, err := json.Marshal(execution)
		if err != nil {
			return fmt.Errorf("failed to encode execution: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			r.trackRunning(ctx, pipe, execution)

			return nil
		})

		return err
	}

	for range maxTxRetries {
		err := r.client.Watch(ctx, txn, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}

		if err != nil {
			return persistence.NewExecutionError(op, id, err)
		}

		return nil
	}

	return persistence.NewExecutionError(op, id, fmt.Errorf("transaction contention after %d retries", maxTxRetries))
}

func (r *Repository) StoreStage(ctx context.Context, executionID string, stage *models.Stage) error {
	return r.mutate(ctx, "StoreStage", executionID, func(execution *models.Execution) error {
		existing := execution.StageByID(stage.ID)
		if existing == nil {
			return persistence.ErrStageNotFound
		}

		*existing = *stage

		return nil
	})
}

func (r *Repository) AddStage(ctx context.Context, executionID string, stage *models.Stage) error {
	return r.mutate(ctx, "AddStage", executionID, func(execution *models.Execution) error {
		execution.AddStage(stage)

		return nil
	})
}

func (r *Repository) RemoveStage(ctx context.Context, executionID, stageID string) error {
	return r.mutate(ctx, "RemoveStage", executionID, func(execution *models.Execution) error {
		execution.RemoveStage(stageID)

		return nil
	})
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	return r.mutate(ctx, "UpdateStatus", id, func(execution *models.Execution) error {
		execution.Status = status

		now := r.now()

		if status == models.StatusRunning && execution.StartTime == nil {
			execution.StartTime = &now
		}

		if status.IsComplete() && execution.EndTime == nil {
			execution.EndTime = &now
		}

		return nil
	})
}

func (r *Repository) Cancel(ctx context.Context, id, canceledBy, reason string) error {
	return r.mutate(ctx, "Cancel", id, func(execution *models.Execution) error {
		execution.Canceled = true
		execution.CanceledBy = canceledBy

		if reason != "" {
			execution.CancellationReason = reason
		}

		return nil
	})
}

func (r *Repository) Pause(ctx context.Context, id, pausedBy string) error {
	return r.mutate(ctx, "Pause", id, func(execution *models.Execution) error {
		if execution.Status != models.StatusRunning {
			return fmt.Errorf("unable to pause execution with status %s", execution.Status)
		}

		now := r.now()
		execution.Status = models.StatusPaused
		execution.Paused = &models.PausedDetails{PausedBy: pausedBy, PauseTime: &now}

		return nil
	})
}

func (r *Repository) Resume(ctx context.Context, id, resumedBy string) error {
	return r.mutate(ctx, "Resume", id, func(execution *models.Execution) error {
		now := r.now()
		execution.Status = models.StatusRunning

		if execution.Paused != nil {
			execution.Paused.ResumedBy = resumedBy
			execution.Paused.ResumeTime = &now
		}

		return nil
	})
}

func (r *Repository) RunningExecutionIDsForConfig(ctx context.Context, pipelineConfigID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, runningSetKey(pipelineConfigID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read running index for config %s: %w", pipelineConfigID, err)
	}

	return ids, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

func (r *Repository) Close(context.Context) error {
	return r.client.Close()
}

// Package postgres provides a PostgreSQL-backed execution repository. Each
// execution is one JSONB document row; partial mutations run inside a
// transaction with SELECT ... FOR UPDATE, which gives the per-execution
// write serialization the engine requires.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/persistence"
)

type Repository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewRepository(databaseURL string, logger *slog.Logger) (*Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	repo := &Repository{db: db, logger: logger, now: time.Now}
	if err := repo.migrate(context.Background()); err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			application TEXT NOT NULL,
			pipeline_config_id TEXT,
			status TEXT NOT NULL,
			body JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_executions_config_status
			ON executions (pipeline_config_id, status);
	`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to run executions migration: %w", err)
	}

	return nil
}

func (r *Repository) Retrieve(ctx context.Context, id string) (*models.Execution, error) {
	var body []byte

	err := r.db.QueryRowContext(ctx, `SELECT body FROM executions WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("Retrieve", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("Retrieve", id, err)
	}

	execution := &models.Execution{}
	if err := json.Unmarshal(body, execution); err != nil {
		return nil, persistence.NewExecutionError("Retrieve", id, fmt.Errorf("failed to decode execution: %w", err))
	}

	return execution, nil
}

func (r *Repository) Store(ctx context.Context, execution *models.Execution) error {
	body, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError("Store", execution.ID, fmt.Errorf("failed to encode execution: %w", err))
	}

	query := `
		INSERT INTO executions (id, application, pipeline_config_id, status, body, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE
		SET application = EXCLUDED.application,
		    pipeline_config_id = EXCLUDED.pipeline_config_id,
		    status = EXCLUDED.status,
		    body = EXCLUDED.body,
		    updated_at = now()
	`

	if _, err := r.db.ExecContext(ctx, query,
		execution.ID, execution.Application, execution.PipelineConfigID, string(execution.Status), body); err != nil {
		return persistence.NewExecutionError("Store", execution.ID, err)
	}

	return nil
}

// mutate applies fn to the stored document inside a row-locking transaction.
func (r *Repository) mutate(ctx context.Context, op, id string, fn func(*models.Execution) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			r.logger.ErrorContext(ctx, "failed to roll back transaction", "error", rollbackErr)
		}
	}()

	var body []byte

	err = tx.QueryRowContext(ctx, `SELECT body FROM executions WHERE id = $1 FOR UPDATE`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	execution := &models.Execution{}
	if err := json.Unmarshal(body, execution); err != nil {
		return persistence.NewExecutionError(op, id, fmt.Errorf("failed to decode execution: %w", err))
	}

	if err := fn(execution); err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	updated, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewExecutionError(op, id, fmt.Errorf("failed to encode execution: %w", err))
	}

	query := `UPDATE executions SET status = $2, body = $3, updated_at = now() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, string(execution.Status), updated); err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	if err := tx.Commit(); err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	return nil
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
	query := `SELECT id FROM executions WHERE pipeline_config_id = $1 AND status = $2`

	rows, err := r.db.QueryContext(ctx, query, pipelineConfigID, string(models.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query running executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan execution id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return ids, nil
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}

	return nil
}

func (r *Repository) Close(context.Context) error {
	return r.db.Close()
}

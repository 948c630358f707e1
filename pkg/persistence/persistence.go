// Package persistence provides the execution repository abstraction. The
// repository is the only shared mutable resource in the engine: every handler
// performs retrieve, mutate, store, and implementations must serialize
// concurrent writes for the same execution id.
package persistence

import (
	"context"

	"github.com/gantry-io/gantry/pkg/models"
)

type ExecutionRepository interface {
	Retrieve(ctx context.Context, id string) (*models.Execution, error)
	Store(ctx context.Context, execution *models.Execution) error

	// StoreStage replaces the stage within the persisted execution.
	StoreStage(ctx context.Context, executionID string, stage *models.Stage) error
	AddStage(ctx context.Context, executionID string, stage *models.Stage) error
	RemoveStage(ctx context.Context, executionID, stageID string) error

	UpdateStatus(ctx context.Context, id string, status models.Status) error
	Cancel(ctx context.Context, id, canceledBy, reason string) error
	Pause(ctx context.Context, id, pausedBy string) error
	Resume(ctx context.Context, id, resumedBy string) error

	// RunningExecutionIDsForConfig returns ids of executions sharing the
	// given pipeline configuration that are currently RUNNING, used by the
	// admission check for concurrency-limited pipelines.
	RunningExecutionIDsForConfig(ctx context.Context, pipelineConfigID string) ([]string, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

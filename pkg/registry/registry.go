// Package registry maps opaque stage and task type keys to their pluggable
// implementations. Capabilities of a stage type (before/after planning,
// branching, cancellation) are expressed as optional interfaces resolved
// once at plan time.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrNoSuchStageType indicates no builder is registered for a stage type.
	ErrNoSuchStageType = errors.New("stage type not registered")

	// ErrNoSuchTaskType indicates no task is registered for an implementing
	// type key.
	ErrNoSuchTaskType = errors.New("task type not registered")
)

type Registry struct {
	logger *slog.Logger
	stages map[string]StageDefinitionBuilder
	tasks  map[string]Task
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		stages: make(map[string]StageDefinitionBuilder),
		tasks:  make(map[string]Task),
	}
}

func (r *Registry) RegisterStage(builder StageDefinitionBuilder) {
	r.stages[builder.Type()] = builder
}

func (r *Registry) RegisterTask(implementingType string, task Task) {
	r.tasks[implementingType] = task
}

// StageBuilder resolves the definition builder for a stage type.
func (r *Registry) StageBuilder(stageType string) (StageDefinitionBuilder, error) {
	builder, ok := r.stages[stageType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchStageType, stageType)
	}

	return builder, nil
}

// ResolveTask recovers the concrete task implementation for an implementing
// type key.
func (r *Registry) ResolveTask(implementingType string) (Task, error) {
	task, ok := r.tasks[implementingType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchTaskType, implementingType)
	}

	return task, nil
}

package registry

import (
	"context"

	"github.com/gantry-io/gantry/pkg/models"
)

// TaskSpec describes one task of a stage's linear task list. Position
// markers are filled in by the planner.
type TaskSpec struct {
	Name             string
	ImplementingType string
	LoopStart        bool
	LoopEnd          bool
}

// StageSpec is the skeleton of a synthetic child stage. Identity, parent
// linkage and phase are filled in by the planner.
type StageSpec struct {
	Type    string
	Name    string
	Context map[string]any
}

// StageDefinitionBuilder is the minimum contract of a stage type: produce
// the stage's task list.
type StageDefinitionBuilder interface {
	Type() string
	TaskGraph(stage *models.Stage) []TaskSpec
}

// BeforeStagePlanner is implemented by stage types that plan synthetic
// stages to run ahead of their own tasks. Planned eagerly when the owner
// starts.
type BeforeStagePlanner interface {
	BeforeStages(stage *models.Stage) ([]StageSpec, error)
}

// AfterStagePlanner is implemented by stage types that plan synthetic stages
// to run after their own tasks. Planning is deferred until the owner's tasks
// finish so children are never built for an owner that fails early.
type AfterStagePlanner interface {
	AfterStages(stage *models.Stage) ([]StageSpec, error)
}

// BranchPlanner is implemented by branching stage types. Branches run
// concurrently with no requisites among themselves; the post-branch task
// list stays on the parent and runs only after every branch completes.
type BranchPlanner interface {
	Branches(stage *models.Stage) ([]StageSpec, error)
	PostBranchTasks(stage *models.Stage) []TaskSpec
}

// Cancellable is implemented by stage types with a cancellation routine,
// invoked when an in-flight stage is cancelled or aborted.
type Cancellable interface {
	Cancel(ctx context.Context, stage *models.Stage) error
}

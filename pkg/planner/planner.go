// Package planner expands a stage definition into its task list and
// synthetic child stages. BEFORE stages are planned eagerly when the owner
// starts; AFTER stages are planned only once the owner's own tasks finish,
// so children are never built for an owner that fails early.
package planner

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/registry"
)

// ParallelBranchContextKey marks a synthetic stage as a concurrent branch
// rather than a link in the sequential before/after chain.
const ParallelBranchContextKey = "parallelBranch"

type Planner struct {
	registry *registry.Registry
	newID    func() string
}

// Plan is the expansion of one stage: its tasks plus synthetic children.
// BeforeStages are ordered: execution-window stage first, sequential before
// stages next, parallel branches last.
type Plan struct {
	Tasks        []*models.Task
	BeforeStages []*models.Stage
	AfterStages  []*models.Stage
}

func New(reg *registry.Registry) *Planner {
	return &Planner{
		registry: reg,
		newID:    func() string { return uuid.New().String() },
	}
}

// WithIDGenerator overrides synthetic stage id generation, used by tests for
// stable ids.
func (p *Planner) WithIDGenerator(newID func() string) *Planner {
	p.newID = newID

	return p
}

// Plan expands the stage. Builder panics and errors both surface as planning
// errors for the stage-start error path to classify.
func (p *Planner) Plan(stage *models.Stage) (plan *Plan, err error) {
	defer func() {
		if r := recover(); r != nil {
			plan = nil
			err = fmt.Errorf("stage builder for %q panicked: %v", stage.Type, r)
		}
	}()

	builder, err := p.registry.StageBuilder(stage.Type)
	if err != nil {
		return nil, err
	}

	plan = &Plan{}

	branching, isBranching := builder.(registry.BranchPlanner)
	if isBranching {
		plan.Tasks = buildTasks(branching.PostBranchTasks(stage))
	} else {
		plan.Tasks = buildTasks(builder.TaskGraph(stage))
	}

	var before []*models.Stage

	if requestsExecutionWindow(stage) && !stage.IsSynthetic() {
		before = append(before, p.windowStage(stage, len(before)))
	}

	if bp, ok := builder.(registry.BeforeStagePlanner); ok {
		specs, err := bp.BeforeStages(stage)
		if err != nil {
			return nil, fmt.Errorf("failed to plan before stages for %q: %w", stage.Type, err)
		}

		for _, spec := range specs {
			before = append(before, p.synthetic(stage, spec, models.SyntheticBefore, len(before), false))
		}
	}

	if isBranching {
		branches, err := branching.Branches(stage)
		if err != nil {
			return nil, fmt.Errorf("failed to plan branches for %q: %w", stage.Type, err)
		}

		for _, spec := range branches {
			before = append(before, p.synthetic(stage, spec, models.SyntheticBefore, len(before), true))
		}
	}

	plan.BeforeStages = before

	if ap, ok := builder.(registry.AfterStagePlanner); ok {
		specs, err := ap.AfterStages(stage)
		if err != nil {
			return nil, fmt.Errorf("failed to plan after stages for %q: %w", stage.Type, err)
		}

		for i, spec := range specs {
			plan.AfterStages = append(plan.AfterStages, p.synthetic(stage, spec, models.SyntheticAfter, i, false))
		}
	}

	return plan, nil
}

func buildTasks(specs []registry.TaskSpec) []*models.Task {
	tasks := make([]*models.Task, 0, len(specs))

	for i, spec := range specs {
		tasks = append(tasks, &models.Task{
			ID:               strconv.Itoa(i + 1),
			Name:             spec.Name,
			ImplementingType: spec.ImplementingType,
			Status:           models.StatusNotStarted,
			StageStart:       i == 0,
			StageEnd:         i == len(specs)-1,
			LoopStart:        spec.LoopStart,
			LoopEnd:          spec.LoopEnd,
		})
	}

	return tasks
}

func (p *Planner) synthetic(owner *models.Stage, spec registry.StageSpec, phase models.SyntheticOwner, index int, branch bool) *models.Stage {
	context := make(map[string]any, len(spec.Context)+1)
	for k, v := range spec.Context {
		context[k] = v
	}

	if branch {
		context[ParallelBranchContextKey] = true
	}

	marker := "<"
	if phase == models.SyntheticAfter {
		marker = ">"
	}

	return &models.Stage{
		ID:                  p.newID(),
		RefID:               owner.RefID + marker + strconv.Itoa(index+1),
		Type:                spec.Type,
		Name:                spec.Name,
		Status:              models.StatusNotStarted,
		Context:             context,
		ParentStageID:       owner.ID,
		SyntheticStageOwner: phase,
	}
}

package models

import "time"

// SyntheticOwner marks where a synthetic stage runs relative to the stage
// that planned it. An empty value means the stage was authored directly.
type SyntheticOwner string

const (
	SyntheticBefore SyntheticOwner = "STAGE_BEFORE"
	SyntheticAfter  SyntheticOwner = "STAGE_AFTER"
)

// Stage is a unit of work inside an execution. RefID is the logical
// identifier used for DAG edges and is unique within one execution, distinct
// from the persisted ID.
type Stage struct {
	ID                   string         `json:"id"`
	RefID                string         `json:"refId"`
	Type                 string         `json:"type"`
	Name                 string         `json:"name,omitempty"`
	Status               Status         `json:"status"`
	StartTime            *time.Time     `json:"startTime,omitempty"`
	EndTime              *time.Time     `json:"endTime,omitempty"`
	Context              map[string]any `json:"context"`
	Outputs              map[string]any `json:"outputs,omitempty"`
	RequisiteStageRefIDs []string       `json:"requisiteStageRefIds,omitempty"`
	ParentStageID        string         `json:"parentStageId,omitempty"`
	SyntheticStageOwner  SyntheticOwner `json:"syntheticStageOwner,omitempty"`
	Tasks                []*Task        `json:"tasks"`
}

// IsSynthetic reports whether the stage was generated by another stage's
// plan rather than authored directly.
func (s *Stage) IsSynthetic() bool {
	return s.SyntheticStageOwner != ""
}

func (s *Stage) IsTopLevel() bool {
	return s.ParentStageID == ""
}

// contextFlag reads a boolean stage-context value tolerating the string
// forms pipelines commonly carry.
func (s *Stage) contextFlag(key string, def bool) bool {
	raw, ok := s.Context[key]
	if !ok {
		return def
	}

	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return def
	}
}

// FailPipeline defaults to true: a failing stage fails the whole execution
// unless the pipeline author opted out.
func (s *Stage) FailPipeline() bool {
	return s.contextFlag("failPipeline", true)
}

// ContinuePipeline reports whether the pipeline should proceed past this
// stage as if it had succeeded.
func (s *Stage) ContinuePipeline() bool {
	return s.contextFlag("continuePipeline", false)
}

// CompleteOtherBranchesThenFail reports whether a failure here should let
// sibling branches run to completion before the execution fails.
func (s *Stage) CompleteOtherBranchesThenFail() bool {
	return s.contextFlag("completeOtherBranchesThenFail", false)
}

func (s *Stage) MarkSuccessfulOnTimeout() bool {
	return s.contextFlag("markSuccessfulOnTimeout", false)
}

func (s *Stage) IsManuallySkipped() bool {
	return s.contextFlag("manualSkip", false)
}

// IsParallelBranch reports whether this synthetic stage is a concurrent
// branch sibling rather than a link in the sequential before/after chain.
func (s *Stage) IsParallelBranch() bool {
	return s.contextFlag("parallelBranch", false)
}

// FailureStatus resolves the terminal status a failure in this stage maps to,
// given the stage's context flags.
func (s *Stage) FailureStatus(def Status) Status {
	switch {
	case s.ContinuePipeline():
		return StatusFailedContinue
	case !s.FailPipeline():
		return StatusStopped
	default:
		return def
	}
}

// TimeoutOverride returns the per-stage task timeout override, if present.
// Pipelines serialized through JSON deliver the value as any numeric type.
func (s *Stage) TimeoutOverride() (time.Duration, bool) {
	raw, ok := s.Context["stageTimeoutMs"]
	if !ok {
		return 0, false
	}

	var ms int64

	switch v := raw.(type) {
	case int:
		ms = int64(v)
	case int64:
		ms = v
	case float64:
		ms = int64(v)
	default:
		return 0, false
	}

	return time.Duration(ms) * time.Millisecond, true
}

// TaskByID returns the task with the given id, or nil.
func (s *Stage) TaskByID(id string) *Task {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t
		}
	}

	return nil
}

// FirstTask returns the first task in list order, or nil if the stage has no
// tasks.
func (s *Stage) FirstTask() *Task {
	if len(s.Tasks) == 0 {
		return nil
	}

	return s.Tasks[0]
}

// NextTask returns the task following the given one in list order, or nil if
// it was the last.
func (s *Stage) NextTask(after *Task) *Task {
	for i, t := range s.Tasks {
		if t.ID == after.ID && i+1 < len(s.Tasks) {
			return s.Tasks[i+1]
		}
	}

	return nil
}

// LoopWindow returns the tasks from the nearest loop-start marker at or
// before the given task through the nearest loop-end marker at or after it.
// The boolean is false when the task is not inside a loop window.
func (s *Stage) LoopWindow(task *Task) ([]*Task, bool) {
	pos := -1

	for i, t := range s.Tasks {
		if t.ID == task.ID {
			pos = i

			break
		}
	}

	if pos == -1 {
		return nil, false
	}

	start := -1

	for i := pos; i >= 0; i-- {
		if s.Tasks[i].LoopStart {
			start = i

			break
		}
	}

	end := -1

	for i := pos; i < len(s.Tasks); i++ {
		if s.Tasks[i].LoopEnd {
			end = i

			break
		}
	}

	if start == -1 || end == -1 {
		return nil, false
	}

	return s.Tasks[start : end+1], true
}

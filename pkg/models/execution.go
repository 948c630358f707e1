package models

import (
	"slices"
	"time"
)

// PausedDetails records a pause/resume window on an execution. PausedMs is
// deducted from task elapsed time so a pause never causes a false timeout.
type PausedDetails struct {
	PausedBy   string     `json:"pausedBy,omitempty"`
	ResumedBy  string     `json:"resumedBy,omitempty"`
	PauseTime  *time.Time `json:"pauseTime,omitempty"`
	ResumeTime *time.Time `json:"resumeTime,omitempty"`
}

// PausedMs returns the length of the pause window in milliseconds, using now
// as the end when the execution has not been resumed yet.
func (p *PausedDetails) PausedMs(now time.Time) int64 {
	if p == nil || p.PauseTime == nil {
		return 0
	}

	end := now
	if p.ResumeTime != nil {
		end = *p.ResumeTime
	}

	return end.Sub(*p.PauseTime).Milliseconds()
}

// Execution is one run of a pipeline: a graph-structured collection of
// stages plus run-wide bookkeeping. It is the single mutable aggregate for
// one execution id; all structural mutation goes through the repository's
// read-modify-write cycle.
type Execution struct {
	ID                 string         `json:"id"`
	Application        string         `json:"application"`
	Name               string         `json:"name,omitempty"`
	Status             Status         `json:"status"`
	StartTime          *time.Time     `json:"startTime,omitempty"`
	EndTime            *time.Time     `json:"endTime,omitempty"`
	Canceled           bool           `json:"canceled"`
	CanceledBy         string         `json:"canceledBy,omitempty"`
	CancellationReason string         `json:"cancellationReason,omitempty"`
	Paused             *PausedDetails `json:"paused,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
	Trigger            map[string]any `json:"trigger,omitempty"`
	PipelineConfigID   string         `json:"pipelineConfigId,omitempty"`
	LimitConcurrent    bool           `json:"limitConcurrent"`
	StartTimeExpiry    *time.Time     `json:"startTimeExpiry,omitempty"`
	Stages             []*Stage       `json:"stages"`
}

// StageByID returns the stage with the given persisted id, or nil.
func (e *Execution) StageByID(id string) *Stage {
	for _, s := range e.Stages {
		if s.ID == id {
			return s
		}
	}

	return nil
}

// StageByRefID returns the stage with the given logical refId, or nil.
// Synthetic stages have no refId of their own.
func (e *Execution) StageByRefID(refID string) *Stage {
	for _, s := range e.Stages {
		if !s.IsSynthetic() && s.RefID == refID {
			return s
		}
	}

	return nil
}

// InitialStages returns the root stages: top-level stages with no requisite
// refIds.
func (e *Execution) InitialStages() []*Stage {
	var roots []*Stage

	for _, s := range e.Stages {
		if !s.IsSynthetic() && len(s.RequisiteStageRefIDs) == 0 {
			roots = append(roots, s)
		}
	}

	return roots
}

// UpstreamStages returns the stages the given stage waits on, resolved
// through requisiteStageRefIds.
func (e *Execution) UpstreamStages(stage *Stage) []*Stage {
	var upstream []*Stage

	for _, refID := range stage.RequisiteStageRefIDs {
		if s := e.StageByRefID(refID); s != nil {
			upstream = append(upstream, s)
		}
	}

	return upstream
}

// DownstreamStages returns the stages whose requisiteStageRefIds include the
// given refId.
func (e *Execution) DownstreamStages(refID string) []*Stage {
	var downstream []*Stage

	for _, s := range e.Stages {
		if slices.Contains(s.RequisiteStageRefIDs, refID) {
			downstream = append(downstream, s)
		}
	}

	return downstream
}

// TransitiveDownstream returns every stage reachable from the given refId by
// following requisite edges forward, join points included.
func (e *Execution) TransitiveDownstream(refID string) []*Stage {
	seen := map[string]bool{}

	var out []*Stage

	frontier := []string{refID}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		for _, s := range e.DownstreamStages(next) {
			if seen[s.ID] {
				continue
			}

			seen[s.ID] = true
			out = append(out, s)
			frontier = append(frontier, s.RefID)
		}
	}

	return out
}

// SyntheticChildren returns the synthetic stages planned by the given parent
// for one phase, in the order they appear in the stage collection.
func (e *Execution) SyntheticChildren(parentID string, phase SyntheticOwner) []*Stage {
	var children []*Stage

	for _, s := range e.Stages {
		if s.ParentStageID == parentID && s.SyntheticStageOwner == phase {
			children = append(children, s)
		}
	}

	return children
}

// SyntheticDescendants returns every synthetic stage transitively planned
// beneath the given stage.
func (e *Execution) SyntheticDescendants(stageID string) []*Stage {
	var out []*Stage

	for _, s := range e.Stages {
		if s.ParentStageID == stageID && s.IsSynthetic() {
			out = append(out, s)
			out = append(out, e.SyntheticDescendants(s.ID)...)
		}
	}

	return out
}

// TopLevelAncestor walks parentStageId links up to the authored stage that
// owns the given synthetic stage. Returns the stage itself when it is
// already top level.
func (e *Execution) TopLevelAncestor(stage *Stage) *Stage {
	current := stage
	for current != nil && !current.IsTopLevel() {
		current = e.StageByID(current.ParentStageID)
	}

	return current
}

// RemoveStage deletes the stage with the given id from the collection.
func (e *Execution) RemoveStage(stageID string) {
	e.Stages = slices.DeleteFunc(e.Stages, func(s *Stage) bool {
		return s.ID == stageID
	})
}

// AddStage appends a stage to the collection.
func (e *Execution) AddStage(stage *Stage) {
	e.Stages = append(e.Stages, stage)
}

// PausedDurationSince returns how long the execution spent paused after the
// given instant. Pauses that began before it don't count against work that
// had not started yet.
func (e *Execution) PausedDurationSince(instant time.Time, now time.Time) time.Duration {
	if e.Paused == nil || e.Paused.PauseTime == nil {
		return 0
	}

	if e.Paused.PauseTime.After(instant) {
		return time.Duration(e.Paused.PausedMs(now)) * time.Millisecond
	}

	return 0
}

// IsExpired reports whether the execution's start-time TTL has passed.
func (e *Execution) IsExpired(now time.Time) bool {
	return e.StartTimeExpiry != nil && now.After(*e.StartTimeExpiry)
}

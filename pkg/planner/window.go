package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/registry"
)

// Stage and task type keys for the execution-window restriction. The window
// stage is injected ahead of any other BEFORE stages when the owner's
// context requests it, so nothing runs until the window opens.
const (
	WindowStageType    = "restrictExecutionDuringTimeWindow"
	WaitForWindowTask  = "waitForExecutionWindow"
	windowPollInterval = 30 * time.Second
)

func requestsExecutionWindow(stage *models.Stage) bool {
	if stage.Type == WindowStageType {
		return false
	}

	raw, ok := stage.Context["restrictExecutionDuringTimeWindow"]
	if !ok {
		return false
	}

	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

func (p *Planner) windowStage(owner *models.Stage, index int) *models.Stage {
	spec := registry.StageSpec{
		Type: WindowStageType,
		Name: "restrictExecutionDuringTimeWindow",
		Context: map[string]any{
			"executionWindow": owner.Context["executionWindow"],
		},
	}

	return p.synthetic(owner, spec, models.SyntheticBefore, index, false)
}

// WindowStageBuilder defines the injected window stage: a single polling
// task that succeeds once the window opens.
type WindowStageBuilder struct{}

func (WindowStageBuilder) Type() string { return WindowStageType }

func (WindowStageBuilder) TaskGraph(*models.Stage) []registry.TaskSpec {
	return []registry.TaskSpec{{Name: "waitForWindow", ImplementingType: WaitForWindowTask}}
}

// WaitForWindow polls until the cron-described window is open. The window is
// open when the most recent cron trigger is less than durationMs ago.
type WaitForWindow struct {
	now func() time.Time
}

func NewWaitForWindow(now func() time.Time) *WaitForWindow {
	if now == nil {
		now = time.Now
	}

	return &WaitForWindow{now: now}
}

func (t *WaitForWindow) Execute(_ context.Context, stage *models.Stage) (registry.TaskResult, error) {
	spec, duration, err := windowSpec(stage)
	if err != nil {
		return registry.TaskResult{}, err
	}

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return registry.TaskResult{}, fmt.Errorf("invalid execution window schedule %q: %w", spec, err)
	}

	now := t.now()
	if sched.Next(now.Add(-duration)).Before(now) || sched.Next(now.Add(-duration)).Equal(now) {
		return registry.TaskResult{Status: models.StatusSucceeded}, nil
	}

	return registry.TaskResult{Status: models.StatusRunning}, nil
}

func (t *WaitForWindow) Timeout() time.Duration { return 0 }

func (t *WaitForWindow) BackoffPeriod() time.Duration { return windowPollInterval }

func windowSpec(stage *models.Stage) (string, time.Duration, error) {
	window, ok := stage.Context["executionWindow"].(map[string]any)
	if !ok {
		return "", 0, fmt.Errorf("stage %s requests an execution window but has no executionWindow context", stage.ID)
	}

	spec, ok := window["schedule"].(string)
	if !ok || spec == "" {
		return "", 0, fmt.Errorf("executionWindow for stage %s has no schedule", stage.ID)
	}

	durationMs := float64(0)
	switch v := window["durationMs"].(type) {
	case float64:
		durationMs = v
	case int:
		durationMs = float64(v)
	case int64:
		durationMs = float64(v)
	}

	if durationMs <= 0 {
		return "", 0, fmt.Errorf("executionWindow for stage %s has no positive durationMs", stage.ID)
	}

	return spec, time.Duration(durationMs) * time.Millisecond, nil
}

// RegisterBuiltins adds the engine's built-in stage and task types to a
// registry.
func RegisterBuiltins(reg *registry.Registry, now func() time.Time) {
	reg.RegisterStage(WindowStageBuilder{})
	reg.RegisterTask(WaitForWindowTask, NewWaitForWindow(now))
}

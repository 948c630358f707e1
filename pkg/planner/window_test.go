package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/pkg/models"
)

func windowStageWith(schedule string, durationMs any) *models.Stage {
	return &models.Stage{
		ID:   "w1",
		Type: WindowStageType,
		Context: map[string]any{
			"executionWindow": map[string]any{
				"schedule":   schedule,
				"durationMs": durationMs,
			},
		},
	}
}

func TestWaitForWindow_SucceedsInsideTheWindow(t *testing.T) {
	// Window opens daily at 22:00 for one hour; it is 22:30.
	now := time.Date(2024, 5, 1, 22, 30, 0, 0, time.UTC)
	task := NewWaitForWindow(func() time.Time { return now })

	result, err := task.Execute(t.Context(), windowStageWith("0 22 * * *", 3600000))
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, result.Status)
}

func TestWaitForWindow_PollsOutsideTheWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	task := NewWaitForWindow(func() time.Time { return now })

	result, err := task.Execute(t.Context(), windowStageWith("0 22 * * *", 3600000))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, result.Status)
	assert.Equal(t, windowPollInterval, task.BackoffPeriod())
}

func TestWaitForWindow_MissingWindowContextFails(t *testing.T) {
	task := NewWaitForWindow(nil)

	_, err := task.Execute(t.Context(), &models.Stage{ID: "w1", Context: map[string]any{}})
	require.Error(t, err)
}

func TestWaitForWindow_BadScheduleFails(t *testing.T) {
	task := NewWaitForWindow(nil)

	_, err := task.Execute(t.Context(), windowStageWith("not a schedule", 3600000))
	require.Error(t, err)
}

func TestWaitForWindow_NonPositiveDurationFails(t *testing.T) {
	task := NewWaitForWindow(nil)

	_, err := task.Execute(t.Context(), windowStageWith("0 22 * * *", 0))
	require.Error(t, err)
}

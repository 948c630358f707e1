package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/testutil"
)

func restartStageMessage(executionID, stageID, restartedBy string) *messages.RestartStage {
	return &messages.RestartStage{
		StageBase:   stageBase(executionID, stageID),
		RestartedBy: restartedBy,
	}
}

func TestRestartStage_RewindsTheStageAndItsDownstream(t *testing.T) {
	h := newHarness(t)

	failed := testutil.Stage("s1", "1", "deploy",
		testutil.WithStageStatus(models.StatusTerminal),
		testutil.WithStageContext("exception", map[string]any{"error": "instance type not available"}),
		testutil.WithTasks(
			testutil.Task("1", "createServer", "createServerTask", true, true,
				testutil.WithTaskStatus(models.StatusTerminal)),
		))
	child := testutil.Stage("c1", "1<1", "bake",
		testutil.WithStageStatus(models.StatusSucceeded),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))
	downstream := testutil.Stage("s2", "2", "verify",
		testutil.WithStageStatus(models.StatusNotStarted),
		testutil.WithRequisites("1"))

	execution := testutil.Execution("exec-1", []*models.Stage{failed, child, downstream},
		testutil.WithExecutionStatus(models.StatusTerminal))
	h.store(t, execution)

	msg := restartStageMessage("exec-1", "s1", "user")
	require.NoError(t, h.handlers.RestartStage.Handle(t.Context(), msg))

	stored := h.retrieve(t, "exec-1")
	assert.Equal(t, models.StatusRunning, stored.Status)
	assert.Nil(t, stored.EndTime)

	restarted := stored.StageByID("s1")
	assert.Equal(t, models.StatusNotStarted, restarted.Status)
	assert.Nil(t, restarted.StartTime)
	assert.Nil(t, restarted.EndTime)
	assert.Empty(t, restarted.Tasks, "tasks are re-planned on the next start")
	assert.Nil(t, stored.StageByID("c1"), "synthetic descendants are rebuilt from scratch")

	details, ok := restarted.Context["restartDetails"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user", details["restartedBy"])
	assert.Contains(t, details, "previousException")
	assert.NotContains(t, restarted.Context, "exception")

	start := popMessage[*messages.StartStage](t, h)
	assert.Equal(t, "s1", start.StageID)
	assert.Zero(t, h.queue.Len())
}

func TestRestartStage_ClearsCancellationState(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusSucceeded)),
	},
		testutil.WithExecutionStatus(models.StatusCanceled),
		testutil.WithCanceled("user"),
	)
	h.store(t, execution)

	msg := restartStageMessage("exec-1", "s1", "user")
	require.NoError(t, h.handlers.RestartStage.Handle(t.Context(), msg))

	stored := h.retrieve(t, "exec-1")
	assert.False(t, stored.Canceled)
	assert.Empty(t, stored.CanceledBy)
	assert.Equal(t, models.StatusRunning, stored.Status)
}

func TestRestartStage_RunningStageIsRejected(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusRunning)),
	})
	h.store(t, execution)

	msg := restartStageMessage("exec-1", "s1", "user")
	require.NoError(t, h.handlers.RestartStage.Handle(t.Context(), msg))

	assert.Zero(t, h.queue.Len())
	assert.Equal(t, models.StatusRunning, h.retrieve(t, "exec-1").StageByID("s1").Status)
}

func TestRestartStage_SyntheticStageRedirectsToItsOwner(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deployCanary", testutil.WithStageStatus(models.StatusTerminal))
	child := testutil.Stage("c1", "1<1", "bake",
		testutil.WithStageStatus(models.StatusTerminal),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, child}))

	msg := restartStageMessage("exec-1", "c1", "user")
	require.NoError(t, h.handlers.RestartStage.Handle(t.Context(), msg))

	redirect := popMessage[*messages.RestartStage](t, h)
	assert.Equal(t, "s1", redirect.StageID)
	assert.Equal(t, "user", redirect.RestartedBy)
	assert.Equal(t, models.StatusTerminal, h.retrieve(t, "exec-1").StageByID("c1").Status)
}

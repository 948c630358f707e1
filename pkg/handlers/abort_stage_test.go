package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/testutil"
)

func abortStageMessage(executionID, stageID string) *messages.AbortStage {
	return &messages.AbortStage{StageBase: stageBase(executionID, stageID)}
}

func TestAbortStage_TerminatesAndCompletesTheExecution(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusRunning)),
		testutil.Stage("s2", "2", "verify", testutil.WithRequisites("1")),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.AbortStage.Handle(t.Context(), abortStageMessage("exec-1", "s1")))

	stored := h.retrieve(t, "exec-1").StageByID("s1")
	assert.Equal(t, models.StatusTerminal, stored.Status)
	require.NotNil(t, stored.EndTime)

	cancel := popMessage[*messages.CancelStage](t, h)
	assert.Equal(t, "s1", cancel.StageID)

	complete := popMessage[*messages.CompleteExecution](t, h)
	assert.Equal(t, "exec-1", complete.ExecutionID)
	assert.Zero(t, h.queue.Len())
}

func TestAbortStage_SyntheticStageFailsItsOwner(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deployCanary", testutil.WithStageStatus(models.StatusRunning))
	child := testutil.Stage("c1", "1<1", "bake",
		testutil.WithStageStatus(models.StatusRunning),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, child}))

	require.NoError(t, h.handlers.AbortStage.Handle(t.Context(), abortStageMessage("exec-1", "c1")))

	_ = popMessage[*messages.CancelStage](t, h)

	complete := popMessage[*messages.CompleteStage](t, h)
	assert.Equal(t, "s1", complete.StageID)
	assert.Equal(t, models.StatusTerminal, complete.Status)
}

func TestAbortStage_CompletedStageIsIgnored(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusSucceeded)),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.AbortStage.Handle(t.Context(), abortStageMessage("exec-1", "s1")))

	assert.Zero(t, h.queue.Len())
	assert.Equal(t, models.StatusSucceeded, h.retrieve(t, "exec-1").StageByID("s1").Status)
}

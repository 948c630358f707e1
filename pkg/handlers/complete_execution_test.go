package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/testutil"
)

func TestCompleteExecution_AllStagesSucceeded(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusSucceeded)),
		testutil.Stage("s2", "2", "verify", testutil.WithStageStatus(models.StatusSucceeded),
			testutil.WithRequisites("1")),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.CompleteExecution.Handle(t.Context(), newCompleteExecution("exec-1")))

	assert.Equal(t, models.StatusSucceeded, h.retrieve(t, "exec-1").Status)

	published := h.events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.ExecutionCompleteEvent, published[0].GetType())
	assert.Zero(t, h.queue.Len())
}

func TestCompleteExecution_FailedContinueStillSucceeds(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusFailedContinue)),
		testutil.Stage("s2", "2", "verify", testutil.WithStageStatus(models.StatusSucceeded),
			testutil.WithRequisites("1")),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.CompleteExecution.Handle(t.Context(), newCompleteExecution("exec-1")))

	assert.Equal(t, models.StatusSucceeded, h.retrieve(t, "exec-1").Status)
}

func TestCompleteExecution_TerminalStageFailsTheExecution(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusTerminal)),
		testutil.Stage("s2", "2", "verify", testutil.WithRequisites("1")),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.CompleteExecution.Handle(t.Context(), newCompleteExecution("exec-1")))

	assert.Equal(t, models.StatusTerminal, h.retrieve(t, "exec-1").Status)
}

func TestCompleteExecution_NoOpWhileBranchesUndecided(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusSucceeded)),
		testutil.Stage("s2", "2", "verify", testutil.WithStageStatus(models.StatusRunning)),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.CompleteExecution.Handle(t.Context(), newCompleteExecution("exec-1")))

	assert.Equal(t, models.StatusRunning, h.retrieve(t, "exec-1").Status)
	assert.Zero(t, h.queue.Len(), "the running branch will push its own completion")
	assert.Empty(t, h.events.Events())
}

func TestCompleteExecution_UnreachableStagesDoNotBlockCompletion(t *testing.T) {
	h := newHarness(t)

	// s2 can never run: its only upstream stopped without allowing
	// downstream work.
	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy",
			testutil.WithStageStatus(models.StatusStopped),
			testutil.WithStageContext("failPipeline", false)),
		testutil.Stage("s2", "2", "verify", testutil.WithRequisites("1")),
		testutil.Stage("s3", "3", "cleanup", testutil.WithRequisites("2")),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.CompleteExecution.Handle(t.Context(), newCompleteExecution("exec-1")))

	assert.Equal(t, models.StatusSucceeded, h.retrieve(t, "exec-1").Status)
}

func TestCompleteExecution_DefersWhileOtherBranchesFinish(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy",
			testutil.WithStageStatus(models.StatusTerminal),
			testutil.WithStageContext("completeOtherBranchesThenFail", true)),
		testutil.Stage("s2", "2", "verify", testutil.WithStageStatus(models.StatusRunning)),
	})
	h.store(t, execution)

	msg := newCompleteExecution("exec-1")
	require.NoError(t, h.handlers.CompleteExecution.Handle(t.Context(), msg))

	assert.Equal(t, models.StatusRunning, h.retrieve(t, "exec-1").Status)

	pushes := h.queue.Pushes()
	require.Len(t, pushes, 1)
	assert.Equal(t, DefaultRetryDelay, pushes[0].Delay)

	_, ok := pushes[0].Message.(*messages.CompleteExecution)
	assert.True(t, ok)
}

func TestCompleteExecution_StoppedFatalFailsOnceBranchesSettle(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy",
			testutil.WithStageStatus(models.StatusStopped),
			testutil.WithStageContext("completeOtherBranchesThenFail", true)),
		testutil.Stage("s2", "2", "verify", testutil.WithStageStatus(models.StatusSucceeded)),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.CompleteExecution.Handle(t.Context(), newCompleteExecution("exec-1")))

	assert.Equal(t, models.StatusTerminal, h.retrieve(t, "exec-1").Status)
}

func TestCompleteExecution_CanceledExecutionFinalizesAsCanceled(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusCanceled)),
	}, testutil.WithCanceled("user"))
	h.store(t, execution)

	require.NoError(t, h.handlers.CompleteExecution.Handle(t.Context(), newCompleteExecution("exec-1")))

	assert.Equal(t, models.StatusCanceled, h.retrieve(t, "exec-1").Status)
}

func TestCompleteExecution_ReleasesTheWaitingQueue(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusSucceeded)),
	}, testutil.WithConcurrencyLimit("config-1"))
	h.store(t, execution)

	require.NoError(t, h.handlers.CompleteExecution.Handle(t.Context(), newCompleteExecution("exec-1")))

	release := popMessage[*messages.StartWaitingExecutions](t, h)
	assert.Equal(t, "config-1", release.PipelineConfigID)
	assert.False(t, release.PurgeQueue)
}

func TestCompleteExecution_RedeliveryAfterCompletionIsIgnored(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusSucceeded)),
	}, testutil.WithExecutionStatus(models.StatusSucceeded))
	h.store(t, execution)

	require.NoError(t, h.handlers.CompleteExecution.Handle(t.Context(), newCompleteExecution("exec-1")))

	assert.Zero(t, h.queue.Len())
	assert.Empty(t, h.events.Events())
}

package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/testutil"
)

func TestContinueParentStage_WaitsForIncompleteSiblings(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deployMulti", testutil.WithStageStatus(models.StatusRunning))
	done := testutil.Stage("b1", "1<1", "deploy",
		testutil.WithStageStatus(models.StatusSucceeded),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))
	failed := testutil.Stage("b2", "1<2", "deploy",
		testutil.WithStageStatus(models.StatusTerminal),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))
	running := testutil.Stage("b3", "1<3", "deploy",
		testutil.WithStageStatus(models.StatusRunning),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, done, failed, running}))

	msg := newContinueParentStage("exec-1", "s1", models.SyntheticBefore)
	require.NoError(t, h.handlers.ContinueParentStage.Handle(t.Context(), msg))

	// A failed sibling never rolls up while a branch is still working.
	pushes := h.queue.Pushes()
	require.Len(t, pushes, 1)
	assert.Equal(t, DefaultRetryDelay, pushes[0].Delay)

	_, ok := pushes[0].Message.(*messages.ContinueParentStage)
	assert.True(t, ok)
}

func TestContinueParentStage_BeforePhaseDoneStartsParentTasks(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deployCanary",
		testutil.WithStageStatus(models.StatusRunning),
		testutil.WithTasks(
			testutil.Task("1", "verify", "verifyTask", true, true),
		))
	child := testutil.Stage("c1", "1<1", "bake",
		testutil.WithStageStatus(models.StatusSucceeded),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, child}))

	msg := newContinueParentStage("exec-1", "s1", models.SyntheticBefore)
	require.NoError(t, h.handlers.ContinueParentStage.Handle(t.Context(), msg))

	start := popMessage[*messages.StartTask](t, h)
	assert.Equal(t, "s1", start.StageID)
	assert.Equal(t, "1", start.TaskID)
	assert.Zero(t, h.queue.Len())
}

func TestContinueParentStage_BeforePhaseDoneWithNoTasksCompletesParent(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deployCanary", testutil.WithStageStatus(models.StatusRunning))
	child := testutil.Stage("c1", "1<1", "bake",
		testutil.WithStageStatus(models.StatusSucceeded),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, child}))

	msg := newContinueParentStage("exec-1", "s1", models.SyntheticBefore)
	require.NoError(t, h.handlers.ContinueParentStage.Handle(t.Context(), msg))

	complete := popMessage[*messages.CompleteStage](t, h)
	assert.Equal(t, "s1", complete.StageID)
	assert.Equal(t, models.StatusSucceeded, complete.Status)
	assert.Zero(t, h.queue.Len())
}

func TestContinueParentStage_FailedBeforeChildDoesNotDoubleRollUp(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deployCanary", testutil.WithStageStatus(models.StatusRunning))
	child := testutil.Stage("c1", "1<1", "bake",
		testutil.WithStageStatus(models.StatusTerminal),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, child}))

	msg := newContinueParentStage("exec-1", "s1", models.SyntheticBefore)
	require.NoError(t, h.handlers.ContinueParentStage.Handle(t.Context(), msg))

	assert.Zero(t, h.queue.Len(), "the failing child already completed the parent")
}

func TestContinueParentStage_AfterPhaseDoneCompletesParent(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusRunning))
	child := testutil.Stage("a1", "1>1", "notify",
		testutil.WithStageStatus(models.StatusSucceeded),
		testutil.WithSyntheticOwner("s1", models.SyntheticAfter))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, child}))

	msg := newContinueParentStage("exec-1", "s1", models.SyntheticAfter)
	require.NoError(t, h.handlers.ContinueParentStage.Handle(t.Context(), msg))

	complete := popMessage[*messages.CompleteStage](t, h)
	assert.Equal(t, "s1", complete.StageID)
	assert.Equal(t, models.StatusSucceeded, complete.Status)
}

func TestContinueParentStage_AfterPhasePreservesFailedContinue(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deploy",
		testutil.WithStageStatus(models.StatusRunning),
		testutil.WithTasks(
			testutil.Task("1", "createServer", "createServerTask", true, true,
				testutil.WithTaskStatus(models.StatusFailedContinue)),
		))
	child := testutil.Stage("a1", "1>1", "notify",
		testutil.WithStageStatus(models.StatusSucceeded),
		testutil.WithSyntheticOwner("s1", models.SyntheticAfter))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, child}))

	msg := newContinueParentStage("exec-1", "s1", models.SyntheticAfter)
	require.NoError(t, h.handlers.ContinueParentStage.Handle(t.Context(), msg))

	complete := popMessage[*messages.CompleteStage](t, h)
	assert.Equal(t, "s1", complete.StageID)
	assert.Equal(t, models.StatusFailedContinue, complete.Status,
		"the join restores the status the parent's tasks finished with")
}

func TestContinueParentStage_FailedAfterChildFailsParent(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusRunning))
	child := testutil.Stage("a1", "1>1", "notify",
		testutil.WithStageStatus(models.StatusStopped),
		testutil.WithSyntheticOwner("s1", models.SyntheticAfter))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, child}))

	msg := newContinueParentStage("exec-1", "s1", models.SyntheticAfter)
	require.NoError(t, h.handlers.ContinueParentStage.Handle(t.Context(), msg))

	complete := popMessage[*messages.CompleteStage](t, h)
	assert.Equal(t, "s1", complete.StageID)
	assert.Equal(t, models.StatusStopped, complete.Status)
}

func TestContinueParentStage_ParentTasksAlreadyStartedIsIgnored(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deployCanary",
		testutil.WithStageStatus(models.StatusRunning),
		testutil.WithTasks(
			testutil.Task("1", "verify", "verifyTask", true, true,
				testutil.WithTaskStatus(models.StatusRunning)),
		))
	child := testutil.Stage("c1", "1<1", "bake",
		testutil.WithStageStatus(models.StatusSucceeded),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, child}))

	msg := newContinueParentStage("exec-1", "s1", models.SyntheticBefore)
	require.NoError(t, h.handlers.ContinueParentStage.Handle(t.Context(), msg))

	assert.Zero(t, h.queue.Len())
}

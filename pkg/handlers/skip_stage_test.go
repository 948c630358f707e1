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

func skipStageMessage(executionID, stageID string) *messages.SkipStage {
	return &messages.SkipStage{StageBase: stageBase(executionID, stageID)}
}

func TestSkipStage_SkipsAndFansOut(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusRunning)),
		testutil.Stage("s2", "2", "verify", testutil.WithRequisites("1")),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.SkipStage.Handle(t.Context(), skipStageMessage("exec-1", "s1")))

	stored := h.retrieve(t, "exec-1").StageByID("s1")
	assert.Equal(t, models.StatusSkipped, stored.Status)
	require.NotNil(t, stored.EndTime)

	start := popMessage[*messages.StartStage](t, h)
	assert.Equal(t, "s2", start.StageID)
	assert.Zero(t, h.queue.Len())

	published := h.events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.StageCompleteEvent, published[0].GetType())
}

func TestSkipStage_LastStageCompletesTheExecution(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusRunning)),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.SkipStage.Handle(t.Context(), skipStageMessage("exec-1", "s1")))

	complete := popMessage[*messages.CompleteExecution](t, h)
	assert.Equal(t, "exec-1", complete.ExecutionID)
}

func TestSkipStage_ManualSkipCascadesToUnsettledDescendants(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deployCanary",
		testutil.WithStageStatus(models.StatusRunning),
		testutil.WithStageContext("manualSkip", true))
	done := testutil.Stage("c1", "1<1", "bake",
		testutil.WithStageStatus(models.StatusSucceeded),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))
	running := testutil.Stage("c2", "1<2", "tag",
		testutil.WithStageStatus(models.StatusRunning),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, done, running}))

	require.NoError(t, h.handlers.SkipStage.Handle(t.Context(), skipStageMessage("exec-1", "s1")))

	stored := h.retrieve(t, "exec-1")
	assert.Equal(t, models.StatusSucceeded, stored.StageByID("c1").Status, "settled descendants keep their outcome")
	assert.Equal(t, models.StatusSkipped, stored.StageByID("c2").Status)
}

func TestSkipStage_SyntheticStageSignalsParentJoin(t *testing.T) {
	h := newHarness(t)

	parent := testutil.Stage("s1", "1", "deployCanary", testutil.WithStageStatus(models.StatusRunning))
	child := testutil.Stage("c1", "1<1", "bake",
		testutil.WithStageStatus(models.StatusRunning),
		testutil.WithSyntheticOwner("s1", models.SyntheticBefore))

	h.store(t, testutil.Execution("exec-1", []*models.Stage{parent, child}))

	require.NoError(t, h.handlers.SkipStage.Handle(t.Context(), skipStageMessage("exec-1", "c1")))

	cont := popMessage[*messages.ContinueParentStage](t, h)
	assert.Equal(t, "s1", cont.StageID)
	assert.Equal(t, models.SyntheticBefore, cont.Phase)
}

func TestSkipStage_CompletedStageIsIgnored(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusSucceeded)),
	})
	h.store(t, execution)

	require.NoError(t, h.handlers.SkipStage.Handle(t.Context(), skipStageMessage("exec-1", "s1")))

	assert.Zero(t, h.queue.Len())
	assert.Empty(t, h.events.Events())
	assert.Equal(t, models.StatusSucceeded, h.retrieve(t, "exec-1").StageByID("s1").Status)
}

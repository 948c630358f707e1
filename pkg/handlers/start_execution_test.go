package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/testutil"
)

func startExecutionMessage(executionID string) *messages.StartExecution {
	msg := &messages.StartExecution{}
	msg.ExecutionID = executionID

	return msg
}

func TestStartExecution_FansOutToInitialStages(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy"),
		testutil.Stage("s2", "2", "verify"),
		testutil.Stage("s3", "3", "teardown", testutil.WithRequisites("1", "2")),
	}, testutil.WithExecutionStatus(models.StatusNotStarted))
	h.store(t, execution)

	require.NoError(t, h.handlers.StartExecution.Handle(t.Context(), startExecutionMessage("exec-1")))

	assert.Equal(t, models.StatusRunning, h.retrieve(t, "exec-1").Status)

	first := popMessage[*messages.StartStage](t, h)
	second := popMessage[*messages.StartStage](t, h)
	assert.Equal(t, "s1", first.StageID)
	assert.Equal(t, "s2", second.StageID)
	assert.Zero(t, h.queue.Len(), "only root stages should start")

	published := h.events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.ExecutionStartedEvent, published[0].GetType())
}

func TestStartExecution_NoInitialStagesIsTerminal(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithRequisites("2")),
		testutil.Stage("s2", "2", "verify", testutil.WithRequisites("1")),
	}, testutil.WithExecutionStatus(models.StatusNotStarted))
	h.store(t, execution)

	require.NoError(t, h.handlers.StartExecution.Handle(t.Context(), startExecutionMessage("exec-1")))

	assert.Equal(t, models.StatusTerminal, h.retrieve(t, "exec-1").Status)
	assert.Zero(t, h.queue.Len())
}

func TestStartExecution_ExpiredBeforeStarting(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy"),
	},
		testutil.WithExecutionStatus(models.StatusNotStarted),
		testutil.WithStartTimeExpiry(testNow.Add(-time.Minute)),
	)
	h.store(t, execution)

	require.NoError(t, h.handlers.StartExecution.Handle(t.Context(), startExecutionMessage("exec-1")))

	stored := h.retrieve(t, "exec-1")
	assert.Equal(t, models.StatusCanceled, stored.Status)
	assert.True(t, stored.Canceled)
	assert.Zero(t, h.queue.Len(), "an expired execution never starts stages")
}

func TestStartExecution_CanceledBeforeStarting(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy"),
	},
		testutil.WithExecutionStatus(models.StatusNotStarted),
		testutil.WithCanceled("user"),
	)
	h.store(t, execution)

	require.NoError(t, h.handlers.StartExecution.Handle(t.Context(), startExecutionMessage("exec-1")))

	assert.Zero(t, h.queue.Len())

	published := h.events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.ExecutionCompleteEvent, published[0].GetType())
}

func TestStartExecution_DefersWhenAnotherRunIsActive(t *testing.T) {
	h := newHarness(t)

	running := testutil.Execution("exec-0", []*models.Stage{
		testutil.Stage("r1", "1", "deploy", testutil.WithStageStatus(models.StatusRunning)),
	}, testutil.WithConcurrencyLimit("config-1"))
	h.store(t, running)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy"),
	},
		testutil.WithExecutionStatus(models.StatusNotStarted),
		testutil.WithConcurrencyLimit("config-1"),
	)
	h.store(t, execution)

	require.NoError(t, h.handlers.StartExecution.Handle(t.Context(), startExecutionMessage("exec-1")))

	assert.Equal(t, models.StatusNotStarted, h.retrieve(t, "exec-1").Status)
	assert.Zero(t, h.queue.Len())

	id, ok, err := h.waiting.PopOldest(t.Context(), "config-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "exec-1", id)
}

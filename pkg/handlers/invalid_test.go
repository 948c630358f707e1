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

func TestInvalidMessage_MarksTheExecutionTerminal(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusRunning)),
	})
	h.store(t, execution)

	msg := &messages.InvalidStageID{StageBase: stageBase("exec-1", "missing")}
	require.NoError(t, h.handlers.Invalid.Handle(t.Context(), msg))

	assert.Equal(t, models.StatusTerminal, h.retrieve(t, "exec-1").Status)

	published := h.events.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.ExecutionCompleteEvent, published[0].GetType())
}

func TestInvalidMessage_UnknownExecutionIsDropped(t *testing.T) {
	h := newHarness(t)

	msg := &messages.InvalidExecutionID{}
	msg.ExecutionID = "never-existed"

	require.NoError(t, h.handlers.Invalid.Handle(t.Context(), msg))
	assert.Zero(t, h.queue.Len())
}

func TestInvalidMessage_CompletedExecutionIsLeftAlone(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy", testutil.WithStageStatus(models.StatusSucceeded)),
	}, testutil.WithExecutionStatus(models.StatusSucceeded))
	h.store(t, execution)

	msg := &messages.InvalidTaskID{TaskBase: taskBase("exec-1", "s1", "99")}
	require.NoError(t, h.handlers.Invalid.Handle(t.Context(), msg))

	assert.Equal(t, models.StatusSucceeded, h.retrieve(t, "exec-1").Status)
	assert.Empty(t, h.events.Events())
}

func TestRescheduleExecution_ReDrivesRunningTasks(t *testing.T) {
	h := newHarness(t)

	execution := testutil.Execution("exec-1", []*models.Stage{
		testutil.Stage("s1", "1", "deploy",
			testutil.WithStageStatus(models.StatusRunning),
			testutil.WithTasks(
				testutil.Task("1", "createServer", "createServerTask", true, false,
					testutil.WithTaskStatus(models.StatusSucceeded)),
				testutil.Task("2", "monitorServer", "monitorServerTask", false, true,
					testutil.WithTaskStatus(models.StatusRunning)),
			)),
		testutil.Stage("s2", "2", "verify", testutil.WithStageStatus(models.StatusSucceeded)),
	})
	h.store(t, execution)

	msg := &messages.RescheduleExecution{}
	msg.ExecutionID = "exec-1"
	require.NoError(t, h.handlers.RescheduleExecution.Handle(t.Context(), msg))

	run := popMessage[*messages.RunTask](t, h)
	assert.Equal(t, "s1", run.StageID)
	assert.Equal(t, "2", run.TaskID)
	assert.Zero(t, h.queue.Len())
}

func TestRoute_UnknownMessageTypeIsUnroutable(t *testing.T) {
	h := newHarness(t)

	err := h.handlers.Route(t.Context(), &unknownMessage{})

	var unroutable *UnroutableMessageError
	require.ErrorAs(t, err, &unroutable)
}

type unknownMessage struct{ messages.Base }

func (unknownMessage) MessageType() messages.Type { return "unknownMessage" }

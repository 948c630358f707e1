package handlers

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/pkg/admission"
	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/expressions"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/persistence/memory"
	"github.com/gantry-io/gantry/pkg/planner"
	"github.com/gantry-io/gantry/pkg/queue"
	"github.com/gantry-io/gantry/pkg/registry"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	queue      *queue.Memory
	repository *memory.Repository
	events     *events.Memory
	registry   *registry.Registry
	waiting    *admission.Memory
	handlers   *Handlers
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		queue:      queue.NewMemory(),
		repository: memory.NewRepository().WithClock(func() time.Time { return testNow }),
		events:     events.NewMemory(),
		registry:   registry.NewRegistry(logger),
		waiting:    admission.NewMemory(),
	}

	syntheticID := 0
	p := planner.New(h.registry).WithIDGenerator(func() string {
		syntheticID++

		return "synthetic-" + strconv.Itoa(syntheticID)
	})

	h.handlers = New(Deps{
		Queue:      h.queue,
		Repository: h.repository,
		Registry:   h.registry,
		Planner:    p,
		Processor:  expressions.NewProcessor(),
		Events:     h.events,
		Waiting:    h.waiting,
		Now:        func() time.Time { return testNow },
		Logger:     logger,
	})

	return h
}

func (h *harness) store(t *testing.T, execution *models.Execution) {
	t.Helper()
	require.NoError(t, h.repository.Store(t.Context(), execution))
}

func (h *harness) retrieve(t *testing.T, id string) *models.Execution {
	t.Helper()

	execution, err := h.repository.Retrieve(t.Context(), id)
	require.NoError(t, err)

	return execution
}

// popMessage asserts the oldest queued message has the given type and
// returns it.
func popMessage[T messages.Message](t *testing.T, h *harness) T {
	t.Helper()

	pushed, ok := h.queue.PopFirst()
	require.True(t, ok, "expected a queued message")

	msg, ok := pushed.Message.(T)
	require.True(t, ok, "unexpected message type %T", pushed.Message)

	return msg
}

// stubTask is a scripted task implementation.
type stubTask struct {
	result registry.TaskResult
	err    error
	calls  int
}

func (s *stubTask) Execute(_ context.Context, _ *models.Stage) (registry.TaskResult, error) {
	s.calls++

	return s.result, s.err
}

// taskFunc adapts a plain function into a task implementation.
type taskFunc func(stage *models.Stage) (registry.TaskResult, error)

func (f taskFunc) Execute(_ context.Context, stage *models.Stage) (registry.TaskResult, error) {
	return f(stage)
}

// stubPollingTask adds retryable semantics with a fixed timeout and backoff.
type stubPollingTask struct {
	stubTask

	timeout time.Duration
	backoff time.Duration
}

func (s *stubPollingTask) Timeout() time.Duration { return s.timeout }

func (s *stubPollingTask) BackoffPeriod() time.Duration { return s.backoff }

// stubStage is a scripted stage definition builder covering the optional
// planner capabilities.
type stubStage struct {
	typeName  string
	tasks     []registry.TaskSpec
	before    []registry.StageSpec
	after     []registry.StageSpec
	beforeErr error
	afterErr  error
	canceled  []string
}

func (s *stubStage) Type() string { return s.typeName }

func (s *stubStage) TaskGraph(*models.Stage) []registry.TaskSpec { return s.tasks }

func (s *stubStage) BeforeStages(*models.Stage) ([]registry.StageSpec, error) {
	return s.before, s.beforeErr
}

func (s *stubStage) AfterStages(*models.Stage) ([]registry.StageSpec, error) {
	return s.after, s.afterErr
}

func (s *stubStage) Cancel(_ context.Context, stage *models.Stage) error {
	s.canceled = append(s.canceled, stage.ID)

	return nil
}

// stubBranchingStage scripts the branching capability.
type stubBranchingStage struct {
	typeName  string
	branches  []registry.StageSpec
	postTasks []registry.TaskSpec
}

func (s *stubBranchingStage) Type() string { return s.typeName }

func (s *stubBranchingStage) TaskGraph(*models.Stage) []registry.TaskSpec { return s.postTasks }

func (s *stubBranchingStage) Branches(*models.Stage) ([]registry.StageSpec, error) {
	return s.branches, nil
}

func (s *stubBranchingStage) PostBranchTasks(*models.Stage) []registry.TaskSpec {
	return s.postTasks
}

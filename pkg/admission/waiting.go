// Package admission manages the waiting queue of executions deferred by a
// per-pipeline-configuration concurrency limit.
package admission

import (
	"context"
	"sync"
)

// WaitingQueue holds deferred execution ids per pipeline configuration, in
// arrival order.
type WaitingQueue interface {
	Enqueue(ctx context.Context, pipelineConfigID, executionID string) error

	// PopOldest removes and returns the longest-waiting execution. The
	// boolean is false when the queue is empty.
	PopOldest(ctx context.Context, pipelineConfigID string) (string, bool, error)

	// PopNewest removes and returns the most recently queued execution.
	PopNewest(ctx context.Context, pipelineConfigID string) (string, bool, error)

	// Purge drains every remaining waiting execution, returning the ids.
	Purge(ctx context.Context, pipelineConfigID string) ([]string, error)

	Depth(ctx context.Context, pipelineConfigID string) (int, error)
}

// Memory is an in-process waiting queue for tests and single-node setups.
type Memory struct {
	mu      sync.Mutex
	waiting map[string][]string
}

func NewMemory() *Memory {
	return &Memory{waiting: make(map[string][]string)}
}

func (m *Memory) Enqueue(_ context.Context, pipelineConfigID, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.waiting[pipelineConfigID] = append(m.waiting[pipelineConfigID], executionID)

	return nil
}

func (m *Memory) PopOldest(_ context.Context, pipelineConfigID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.waiting[pipelineConfigID]
	if len(queue) == 0 {
		return "", false, nil
	}

	id := queue[0]
	m.waiting[pipelineConfigID] = queue[1:]

	return id, true, nil
}

func (m *Memory) PopNewest(_ context.Context, pipelineConfigID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.waiting[pipelineConfigID]
	if len(queue) == 0 {
		return "", false, nil
	}

	id := queue[len(queue)-1]
	m.waiting[pipelineConfigID] = queue[:len(queue)-1]

	return id, true, nil
}

func (m *Memory) Purge(_ context.Context, pipelineConfigID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.waiting[pipelineConfigID]
	delete(m.waiting, pipelineConfigID)

	return queue, nil
}

func (m *Memory) Depth(_ context.Context, pipelineConfigID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.waiting[pipelineConfigID]), nil
}

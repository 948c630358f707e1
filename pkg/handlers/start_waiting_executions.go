package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/messages"
)

// StartWaitingExecutionsHandler releases executions deferred by a pipeline
// configuration's concurrency limit: normally the oldest waiter, or with
// PurgeQueue the newest waiter while the rest are canceled.
type StartWaitingExecutionsHandler struct {
	deps Deps
}

func (h *StartWaitingExecutionsHandler) Handle(ctx context.Context, msg *messages.StartWaitingExecutions) error {
	if h.deps.Waiting == nil || msg.PipelineConfigID == "" {
		return nil
	}

	if msg.PurgeQueue {
		return h.purge(ctx, msg.PipelineConfigID)
	}

	id, ok, err := h.deps.Waiting.PopOldest(ctx, msg.PipelineConfigID)
	if err != nil || !ok {
		return err
	}

	h.deps.Logger.InfoContext(ctx, "starting waiting execution",
		"executionId", id, "pipelineConfigId", msg.PipelineConfigID)

	start := &messages.StartExecution{}
	start.ExecutionID = id

	return h.deps.Queue.Push(ctx, start)
}

func (h *StartWaitingExecutionsHandler) purge(ctx context.Context, pipelineConfigID string) error {
	newest, ok, err := h.deps.Waiting.PopNewest(ctx, pipelineConfigID)
	if err != nil {
		return err
	}

	purged, err := h.deps.Waiting.Purge(ctx, pipelineConfigID)
	if err != nil {
		return err
	}

	for _, id := range purged {
		cancel := &messages.CancelExecution{
			Reason:     "the pipeline does not allow concurrent executions and a newer one superseded this run",
			CanceledBy: "system",
		}
		cancel.ExecutionID = id

		if err := h.deps.Queue.Push(ctx, cancel); err != nil {
			return err
		}
	}

	if !ok {
		return nil
	}

	h.deps.Logger.InfoContext(ctx, "starting newest waiting execution after purge",
		"executionId", newest, "pipelineConfigId", pipelineConfigID, "purged", len(purged))

	start := &messages.StartExecution{}
	start.ExecutionID = newest

	return h.deps.Queue.Push(ctx, start)
}

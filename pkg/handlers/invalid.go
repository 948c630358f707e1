package handlers

import (
	"context"

	"github.com/gantry-io/gantry/pkg/events"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/persistence"
)

// InvalidMessageHandler resolves configuration-error signals: a message
// referenced something that doesn't exist, so the execution is marked
// TERMINAL rather than left to spin.
type InvalidMessageHandler struct {
	deps Deps
}

func (h *InvalidMessageHandler) Handle(ctx context.Context, msg messages.Message) error {
	h.deps.Logger.ErrorContext(ctx, "marking execution terminal after configuration error",
		"executionId", msg.GetExecutionID(), "messageType", msg.MessageType())

	execution, err := h.deps.Repository.Retrieve(ctx, msg.GetExecutionID())
	if persistence.IsExecutionNotFound(err) {
		// Nothing to mark; the id never existed or was already purged.
		return nil
	}

	if err != nil {
		return err
	}

	if execution.Status.IsComplete() {
		return nil
	}

	if err := h.deps.Repository.UpdateStatus(ctx, execution.ID, models.StatusTerminal); err != nil {
		return err
	}

	return h.deps.Events.Publish(ctx, events.ExecutionComplete{
		BaseEvent: events.NewBaseEvent(events.ExecutionCompleteEvent, execution),
		Status:    models.StatusTerminal,
	})
}

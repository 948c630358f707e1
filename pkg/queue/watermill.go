package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/gantry-io/gantry/pkg/messages"
)

// DeliverAfterMetadataKey carries the instant a delayed message becomes due.
// The dispatcher compares it against delivery time to account throttle time
// on the message's attributes.
const DeliverAfterMetadataKey = "deliver_after"

// Watermill publishes commands onto a watermill topic. Delays are
// process-local timers; a crash before a timer fires loses only poll-style
// re-enqueues, which RescheduleExecution recovers.
type Watermill struct {
	publisher message.Publisher
	logger    *slog.Logger
}

func NewWatermill(publisher message.Publisher, logger *slog.Logger) *Watermill {
	return &Watermill{publisher: publisher, logger: logger}
}

func (q *Watermill) Push(_ context.Context, msg messages.Message) error {
	return q.publish(msg, time.Time{})
}

func (q *Watermill) PushDelayed(_ context.Context, msg messages.Message, delay time.Duration) error {
	if delay <= 0 {
		return q.publish(msg, time.Time{})
	}

	due := time.Now().Add(delay)

	time.AfterFunc(delay, func() {
		if err := q.publish(msg, due); err != nil {
			q.logger.Error("failed to publish delayed message",
				"messageType", msg.MessageType(), "executionId", msg.GetExecutionID(), "error", err)
		}
	})

	return nil
}

func (q *Watermill) Reschedule(_ context.Context, msg messages.Message) error {
	return q.publish(msg, time.Time{})
}

func (q *Watermill) publish(msg messages.Message, due time.Time) error {
	payload, err := messages.Marshal(msg)
	if err != nil {
		return err
	}

	m := message.NewMessage(watermill.NewUUID(), payload)
	m.Metadata.Set(messages.TypeMetadataKey, string(msg.MessageType()))

	if !due.IsZero() {
		m.Metadata.Set(DeliverAfterMetadataKey, due.Format(time.RFC3339Nano))
	}

	return q.publisher.Publish(CommandTopic, m)
}

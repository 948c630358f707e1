// Package dispatcher consumes the command topic and drives messages through
// their handlers. Delivery is at least once: failed handling is retried by
// re-pushing the message with its attempt count bumped, and a message that
// exhausts its attempts is resolved through the dead-letter policy instead
// of poisoning the topic.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gantry-io/gantry/pkg/handlers"
	"github.com/gantry-io/gantry/pkg/messages"
	"github.com/gantry-io/gantry/pkg/models"
	"github.com/gantry-io/gantry/pkg/queue"
)

const (
	DefaultWorkers     = 10
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 5 * time.Second
)

type Config struct {
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

type Dispatcher struct {
	subscriber message.Subscriber
	queue      queue.Queue
	handlers   *handlers.Handlers
	logger     *slog.Logger
	tracer     trace.Tracer
	config     Config
	now        func() time.Time

	wg sync.WaitGroup
}

func New(subscriber message.Subscriber, q queue.Queue, h *handlers.Handlers, logger *slog.Logger, config Config) *Dispatcher {
	config.defaults()

	return &Dispatcher{
		subscriber: subscriber,
		queue:      q,
		handlers:   h,
		logger:     logger,
		tracer:     otel.Tracer("gantry.dispatcher"),
		config:     config,
		now:        time.Now,
	}
}

// WithClock overrides time for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now

	return d
}

// Start subscribes to the command topic and consumes it with the configured
// number of workers until ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) error {
	deliveries, err := d.subscriber.Subscribe(ctx, queue.CommandTopic)
	if err != nil {
		return err
	}

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)

		go func() {
			defer d.wg.Done()

			for msg := range deliveries {
				d.consume(ctx, msg)
			}
		}()
	}

	return nil
}

// Wait blocks until every worker has drained, after the subscription closes.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, msg *message.Message) {
	decoded, err := messages.Unmarshal(msg.Payload)
	if err != nil {
		// Undecodable payloads carry no execution reference to resolve, so
		// dropping is all that's left.
		d.logger.ErrorContext(ctx, "dropping undecodable message", "messageUuid", msg.UUID, "error", err)
		msg.Ack()

		return
	}

	d.accountThrottleTime(decoded, msg)

	if decoded.Attrs().DeadLetter {
		d.logger.WarnContext(ctx, "dropping dead-lettered message",
			"messageType", decoded.MessageType(), "executionId", decoded.GetExecutionID())
		msg.Ack()

		return
	}

	ctx, span := d.tracer.Start(ctx, "dispatch."+string(decoded.MessageType()),
		trace.WithAttributes(
			attribute.String("gantry.message_type", string(decoded.MessageType())),
			attribute.String("gantry.execution_id", decoded.GetExecutionID()),
			attribute.Int("gantry.attempts", decoded.Attrs().Attempts),
		))
	defer span.End()

	if err := d.handlers.Route(ctx, decoded); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		d.retryOrDeadLetter(ctx, decoded, err)
	}

	// Failures are resolved by re-push or dead-lettering; redelivering the
	// original would double the attempt.
	msg.Ack()
}

// accountThrottleTime credits the message with any lag past its intended
// delivery time so queue congestion never counts against task timeouts.
func (d *Dispatcher) accountThrottleTime(decoded messages.Message, msg *message.Message) {
	raw := msg.Metadata.Get(queue.DeliverAfterMetadataKey)
	if raw == "" {
		return
	}

	due, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return
	}

	if lag := d.now().Sub(due); lag > 0 {
		decoded.Attrs().AddThrottleTime(lag.Milliseconds())
	}
}

func (d *Dispatcher) retryOrDeadLetter(ctx context.Context, decoded messages.Message, cause error) {
	attrs := decoded.Attrs()
	if attrs.MaxAttempts == 0 {
		attrs.MaxAttempts = d.config.MaxAttempts
	}

	attrs.IncrementAttempts()

	if !attrs.AttemptsExhausted() {
		d.logger.WarnContext(ctx, "message handling failed, retrying",
			"messageType", decoded.MessageType(), "executionId", decoded.GetExecutionID(),
			"attempts", attrs.Attempts, "error", cause)

		if err := d.queue.PushDelayed(ctx, decoded, d.config.RetryDelay); err != nil {
			d.logger.ErrorContext(ctx, "failed to re-push message for retry",
				"messageType", decoded.MessageType(), "executionId", decoded.GetExecutionID(), "error", err)
		}

		return
	}

	d.deadLetter(ctx, decoded, cause)
}

// deadLetter resolves a message that exhausted its attempts by terminally
// completing the unit of work it addressed. The message itself is marked so
// a stray redelivery is dropped rather than resolved twice.
func (d *Dispatcher) deadLetter(ctx context.Context, decoded messages.Message, cause error) {
	attrs := decoded.Attrs()
	attrs.DeadLetter = true

	d.logger.ErrorContext(ctx, "message exhausted attempts, dead-lettering",
		"messageType", decoded.MessageType(), "executionId", decoded.GetExecutionID(),
		"attempts", attrs.Attempts, "error", cause)

	resolution := d.resolution(decoded)
	if resolution == nil {
		return
	}

	if err := d.queue.Push(ctx, resolution); err != nil {
		d.logger.ErrorContext(ctx, "failed to push dead-letter resolution",
			"messageType", decoded.MessageType(), "executionId", decoded.GetExecutionID(), "error", err)
	}
}

// resolution builds the level-appropriate terminal completion for a
// dead-lettered message. A completion message that itself dead-lettered has
// no further resolution.
func (d *Dispatcher) resolution(decoded messages.Message) messages.Message {
	switch decoded.MessageType() {
	case messages.CompleteTaskType, messages.CompleteStageType, messages.CompleteExecutionType:
		return nil
	}

	if task, ok := decoded.(messages.TaskLevel); ok {
		complete := &messages.CompleteTask{
			Status:         models.StatusTerminal,
			OriginalStatus: models.StatusTerminal,
		}
		complete.ExecutionID = task.GetExecutionID()
		complete.StageID = task.GetStageID()
		complete.TaskID = task.GetTaskID()

		return complete
	}

	if stage, ok := decoded.(messages.StageLevel); ok {
		complete := &messages.CompleteStage{Status: models.StatusTerminal}
		complete.ExecutionID = stage.GetExecutionID()
		complete.StageID = stage.GetStageID()

		return complete
	}

	complete := &messages.CompleteExecution{}
	complete.ExecutionID = decoded.GetExecutionID()

	return complete
}

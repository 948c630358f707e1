package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const Topic = "gantry.events"

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// WatermillPublisher emits events onto the event topic. Publish failures are
// logged and swallowed: reporting must never stall the engine.
type WatermillPublisher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

func NewWatermillPublisher(publisher message.Publisher, logger *slog.Logger) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher, logger: logger}
}

func (p *WatermillPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal event", "eventType", event.GetType(), "error", err)

		return nil
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(EventTypeMetadataKey, string(event.GetType()))

	if err := p.publisher.Publish(Topic, msg); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish event", "eventType", event.GetType(), "error", err)
	}

	return nil
}

// Memory records published events for test assertions.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (p *Memory) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

// Events returns a snapshot of everything published so far.
func (p *Memory) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Event, len(p.events))
	copy(out, p.events)

	return out
}

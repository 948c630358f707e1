package queue

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-io/gantry/pkg/messages"
)

func TestMemory_RecordsPushesInOrder(t *testing.T) {
	q := NewMemory()

	first := &messages.StartExecution{}
	first.ExecutionID = "exec-1"
	second := &messages.StartStage{}
	second.ExecutionID = "exec-1"
	second.StageID = "s1"

	require.NoError(t, q.Push(t.Context(), first))
	require.NoError(t, q.PushDelayed(t.Context(), second, 10*time.Second))

	pushes := q.Pushes()
	require.Len(t, pushes, 2)
	assert.Same(t, messages.Message(first), pushes[0].Message)
	assert.Zero(t, pushes[0].Delay)
	assert.Equal(t, 10*time.Second, pushes[1].Delay)

	popped, ok := q.PopFirst()
	require.True(t, ok)
	assert.Same(t, messages.Message(first), popped.Message)
	assert.Equal(t, 1, q.Len())

	q.Clear()
	assert.Zero(t, q.Len())

	_, ok = q.PopFirst()
	assert.False(t, ok)
}

// capturePublisher records watermill messages instead of sending them.
type capturePublisher struct {
	topic    string
	messages []*message.Message
}

func (p *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	p.topic = topic
	p.messages = append(p.messages, msgs...)

	return nil
}

func (p *capturePublisher) Close() error { return nil }

func TestWatermill_PushPublishesAnEnvelope(t *testing.T) {
	publisher := &capturePublisher{}
	q := NewWatermill(publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg := &messages.StartExecution{}
	msg.ExecutionID = "exec-1"

	require.NoError(t, q.Push(t.Context(), msg))

	require.Len(t, publisher.messages, 1)
	assert.Equal(t, CommandTopic, publisher.topic)

	wire := publisher.messages[0]
	assert.Equal(t, string(messages.StartExecutionType), wire.Metadata.Get(messages.TypeMetadataKey))
	assert.Empty(t, wire.Metadata.Get(DeliverAfterMetadataKey))

	decoded, err := messages.Unmarshal(wire.Payload)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", decoded.GetExecutionID())
}

func TestWatermill_DelayedPushStampsTheDueTime(t *testing.T) {
	publisher := &capturePublisher{}
	q := NewWatermill(publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg := &messages.StartStage{}
	msg.ExecutionID = "exec-1"
	msg.StageID = "s1"

	before := time.Now()
	require.NoError(t, q.publish(msg, before.Add(10*time.Second)))

	require.Len(t, publisher.messages, 1)

	raw := publisher.messages[0].Metadata.Get(DeliverAfterMetadataKey)
	require.NotEmpty(t, raw)

	due, err := time.Parse(time.RFC3339Nano, raw)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(10*time.Second), due, time.Second)
}

func TestWatermill_ZeroDelayPublishesImmediately(t *testing.T) {
	publisher := &capturePublisher{}
	q := NewWatermill(publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg := &messages.StartExecution{}
	msg.ExecutionID = "exec-1"

	require.NoError(t, q.PushDelayed(t.Context(), msg, 0))

	require.Len(t, publisher.messages, 1)
	assert.Empty(t, publisher.messages[0].Metadata.Get(DeliverAfterMetadataKey))
}

// Package queue provides the at-least-once command channel handlers push to.
// All waiting in the engine is expressed as re-enqueuing a message after a
// delay; nothing blocks a worker.
package queue

import (
	"context"
	"time"

	"github.com/gantry-io/gantry/pkg/messages"
)

// Topics shared by every queue implementation.
const (
	CommandTopic = "gantry.commands"
	EventTopic   = "gantry.events"
)

type Queue interface {
	Push(ctx context.Context, msg messages.Message) error
	PushDelayed(ctx context.Context, msg messages.Message, delay time.Duration) error

	// Reschedule re-enqueues a message preserving its attributes, used to
	// re-drive work that may have stalled.
	Reschedule(ctx context.Context, msg messages.Message) error
}

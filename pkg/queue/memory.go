package queue

import (
	"context"
	"sync"
	"time"

	"github.com/gantry-io/gantry/pkg/messages"
)

// Pushed is one recorded push with the delay it was requested with.
type Pushed struct {
	Message messages.Message
	Delay   time.Duration
}

// Memory is an in-process queue that records every push. Tests assert on the
// recorded interactions and can pop messages back off to drive the
// message loop by hand.
type Memory struct {
	mu     sync.Mutex
	pushes []Pushed
}

func NewMemory() *Memory {
	return &Memory{}
}

func (q *Memory) Push(_ context.Context, msg messages.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pushes = append(q.pushes, Pushed{Message: msg})

	return nil
}

func (q *Memory) PushDelayed(_ context.Context, msg messages.Message, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pushes = append(q.pushes, Pushed{Message: msg, Delay: delay})

	return nil
}

func (q *Memory) Reschedule(ctx context.Context, msg messages.Message) error {
	return q.Push(ctx, msg)
}

// Pushes returns a snapshot of everything pushed so far.
func (q *Memory) Pushes() []Pushed {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Pushed, len(q.pushes))
	copy(out, q.pushes)

	return out
}

// Messages returns just the pushed messages, in order.
func (q *Memory) Messages() []messages.Message {
	pushes := q.Pushes()

	out := make([]messages.Message, len(pushes))
	for i, p := range pushes {
		out[i] = p.Message
	}

	return out
}

// PopFirst removes and returns the oldest pushed message.
func (q *Memory) PopFirst() (Pushed, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pushes) == 0 {
		return Pushed{}, false
	}

	first := q.pushes[0]
	q.pushes = q.pushes[1:]

	return first, true
}

// Clear drops all recorded pushes.
func (q *Memory) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pushes = nil
}

// Len returns the number of recorded pushes.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pushes)
}

package messages

// Attributes are opaque per-message bookkeeping carried across pushes and
// reschedules. The engine itself only reads TotalThrottleTimeMs (so queue
// throttling never counts against task timeouts); the queue and dispatcher
// own the rest.
type Attributes struct {
	Attempts            int   `json:"attempts,omitempty"`
	MaxAttempts         int   `json:"maxAttempts,omitempty"`
	TotalThrottleTimeMs int64 `json:"totalThrottleTimeMs,omitempty"`
	DeadLetter          bool  `json:"deadLetter,omitempty"`
}

// IncrementAttempts records one delivery attempt and returns the new count.
func (a *Attributes) IncrementAttempts() int {
	a.Attempts++

	return a.Attempts
}

// AttemptsExhausted reports whether the message has been delivered at least
// MaxAttempts times. A zero MaxAttempts means unlimited.
func (a *Attributes) AttemptsExhausted() bool {
	return a.MaxAttempts > 0 && a.Attempts >= a.MaxAttempts
}

// AddThrottleTime accumulates queue-side delay observed before delivery.
func (a *Attributes) AddThrottleTime(ms int64) {
	a.TotalThrottleTimeMs += ms
}

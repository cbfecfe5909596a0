package pipeline

import (
	"sync"
	"time"
)

// Throttle enforces a minimum interval between sent alerts. It is
// independent of motion windows and events, and only a confirmed
// delivery advances it. Safe for concurrent use.
type Throttle struct {
	mu         sync.Mutex
	cooldown   time.Duration
	lastSentAt time.Time
	sent       bool
}

// NewThrottle creates a throttle with the given cooldown.
func NewThrottle(cooldown time.Duration) *Throttle {
	return &Throttle{cooldown: cooldown}
}

// CanSend reports whether an alert may go out at now.
func (t *Throttle) CanSend(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sent {
		return true
	}
	return now.Sub(t.lastSentAt) > t.cooldown
}

// MarkSent records a successful delivery at now.
func (t *Throttle) MarkSent(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSentAt = now
	t.sent = true
}

// Remaining returns how long until CanSend turns true.
func (t *Throttle) Remaining(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sent {
		return 0
	}
	left := t.cooldown - now.Sub(t.lastSentAt)
	if left < 0 {
		return 0
	}
	return left
}

// LastSentAt returns the time of the last delivery and whether one happened.
func (t *Throttle) LastSentAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSentAt, t.sent
}

// Package estop holds the emergency-stop latch.
package estop

import (
	"sync"
	"time"

	"cat_feeder/internal/clock"
)

// Latch is the emergency-stop cancellation token. Done is closed while the
// latch is engaged and replaced with a fresh channel when it is cleared, so a
// dispense in progress observes an engage at its next checkpoint.
type Latch struct {
	mu        sync.Mutex
	clock     clock.Clock
	engaged   bool
	ch        chan struct{}
	changedAt time.Time
}

func New(clk clock.Clock) *Latch {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Latch{clock: clk, ch: make(chan struct{})}
}

// Engage sets the latch. It reports whether the state changed.
func (l *Latch) Engage() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engaged {
		return false
	}
	l.engaged = true
	l.changedAt = l.clock.Now().UTC()
	close(l.ch)
	return true
}

// Clear releases the latch. It reports whether the state changed.
func (l *Latch) Clear() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.engaged {
		return false
	}
	l.engaged = false
	l.changedAt = l.clock.Now().UTC()
	l.ch = make(chan struct{})
	return true
}

// Set engages or clears the latch.
func (l *Latch) Set(engaged bool) bool {
	if engaged {
		return l.Engage()
	}
	return l.Clear()
}

func (l *Latch) Engaged() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engaged
}

// Done returns a channel closed while the latch is engaged.
func (l *Latch) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ch
}

func (l *Latch) ChangedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changedAt
}

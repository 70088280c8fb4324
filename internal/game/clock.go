package game

import (
	"context"
	"sync"
	"time"
)

// WaitOutcome says how a RoundClock wait ended.
type WaitOutcome int

const (
	WaitElapsed WaitOutcome = iota
	WaitSkipped
	WaitAborted
)

// RoundClock bounds how long a question stays open. It is a single-shot
// cancellable delay: Cancel (host skip) is the only way to shorten it.
type RoundClock struct {
	once   sync.Once
	cancel chan struct{}
}

func NewRoundClock() *RoundClock {
	return &RoundClock{cancel: make(chan struct{})}
}

// Wait blocks until the window elapses, Cancel fires, or ctx is done.
func (c *RoundClock) Wait(ctx context.Context, window time.Duration) WaitOutcome {
	t := time.NewTimer(window)
	defer t.Stop()
	select {
	case <-t.C:
		return WaitElapsed
	case <-c.cancel:
		return WaitSkipped
	case <-ctx.Done():
		return WaitAborted
	}
}

// Cancel releases the wait early. Idempotent; a double skip is a no-op.
func (c *RoundClock) Cancel() {
	c.once.Do(func() { close(c.cancel) })
}

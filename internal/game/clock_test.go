package game

import (
	"context"
	"testing"
	"time"
)

func TestRoundClockElapses(t *testing.T) {
	c := NewRoundClock()
	if got := c.Wait(context.Background(), 5*time.Millisecond); got != WaitElapsed {
		t.Fatalf("expected WaitElapsed, got %v", got)
	}
}

func TestRoundClockCancel(t *testing.T) {
	c := NewRoundClock()
	done := make(chan WaitOutcome, 1)
	go func() { done <- c.Wait(context.Background(), time.Minute) }()
	c.Cancel()
	select {
	case got := <-done:
		if got != WaitSkipped {
			t.Fatalf("expected WaitSkipped, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled wait did not return")
	}
	// Idempotent: a second cancel must not panic.
	c.Cancel()
}

func TestRoundClockContextAbort(t *testing.T) {
	c := NewRoundClock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan WaitOutcome, 1)
	go func() { done <- c.Wait(ctx, time.Minute) }()
	cancel()
	select {
	case got := <-done:
		if got != WaitAborted {
			t.Fatalf("expected WaitAborted, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("aborted wait did not return")
	}
}

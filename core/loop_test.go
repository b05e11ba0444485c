package core

import (
	"context"
	"testing"
	"time"
)

func TestLoopTicksImmediatelyThenWaitsInterval(t *testing.T) {
	ticks := make(chan struct{}, 4)
	waits := make(chan time.Duration, 4)
	wake := make(chan time.Time)

	loop := &Loop{
		Clock: Clock{After: func(d time.Duration) <-chan time.Time {
			waits <- d
			return wake
		}},
		Interval: func() time.Duration { return 2 * time.Second },
		Tick:     func(context.Context) { ticks <- struct{}{} },
	}
	if !loop.Start(context.Background()) {
		t.Fatalf("expected loop to start")
	}
	if loop.Start(context.Background()) {
		t.Fatalf("expected second start to be a no-op")
	}

	waitFor(t, ticks)
	if got := waitForValue(t, waits); got != 2*time.Second {
		t.Fatalf("expected 2s interval, got %v", got)
	}
	wake <- time.Now()
	waitFor(t, ticks)

	loop.Stop()
	if loop.Running() {
		t.Fatalf("expected loop stopped")
	}
	loop.Stop()
}

func TestLoopFallsBackToOneSecond(t *testing.T) {
	waits := make(chan time.Duration, 1)
	loop := &Loop{
		Clock: Clock{After: func(d time.Duration) <-chan time.Time {
			waits <- d
			return make(chan time.Time)
		}},
		Interval: func() time.Duration { return 0 },
		Tick:     func(context.Context) {},
	}
	loop.Start(context.Background())
	defer loop.Stop()

	if got := waitForValue(t, waits); got != time.Second {
		t.Fatalf("expected 1s fallback, got %v", got)
	}
}

func TestLoopWithoutTickDoesNotStart(t *testing.T) {
	var loop *Loop
	if loop.Start(context.Background()) || loop.Running() {
		t.Fatalf("expected nil loop to stay idle")
	}
	if (&Loop{}).Start(context.Background()) {
		t.Fatalf("expected loop without tick to stay idle")
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for tick")
	}
}

func waitForValue[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case value := <-ch:
		return value
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for value")
	}
	var zero T
	return zero
}

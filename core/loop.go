package core

import (
	"context"
	"sync"
	"time"
)

// Loop runs a tick function until stopped, waiting Interval between ticks
// on Clock. The first tick runs immediately.
type Loop struct {
	Clock    Clock
	Interval func() time.Duration
	Tick     func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the loop. It is a no-op while the loop is already running.
func (l *Loop) Start(ctx context.Context) bool {
	if l == nil || l.Tick == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	go l.run(runCtx, done)
	return true
}

// Stop cancels the loop and waits for the current tick to return. It is
// safe to call repeatedly.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Loop) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		l.Tick(ctx)
		if ctx.Err() != nil {
			return
		}
		interval := time.Second
		if l.Interval != nil {
			if value := l.Interval(); value > 0 {
				interval = value
			}
		}
		if err := l.Clock.Sleep(ctx, interval); err != nil {
			return
		}
	}
}

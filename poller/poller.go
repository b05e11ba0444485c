package poller

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/webhooks"
)

const ReasonQueueOverflow = "queue_overflow"

// Fetcher reads one page of gateway events after a sequence cursor.
type Fetcher interface {
	Fetch(ctx context.Context, since int64, limit int) (webhooks.EventsPage, error)
}

type Status struct {
	Enabled     bool
	LastEventID int64
	QueueLength int
	Polling     bool
	LastPollAt  *time.Time
	LastError   string
}

type PollResult struct {
	Fetched    int
	Queued     int
	Overflowed int
	Cursor     int64
}

type Option func(*Poller)

func WithClock(clock core.Clock) Option {
	return func(p *Poller) {
		p.clock = clock
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(p *Poller) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// Poller moves gateway events into the durable event queue and keeps the
// polling cursor.
type Poller struct {
	fetcher Fetcher
	queue   core.EventQueue
	cursor  core.CursorStore
	dead    core.DeadLetterStore

	clock    core.Clock
	observer *core.Observer
	loop     *core.Loop

	mu         sync.RWMutex
	cfg        core.SyncConfig
	lastPollAt *time.Time
	lastError  string

	pollMu sync.Mutex
}

func New(
	cfg core.SyncConfig,
	fetcher Fetcher,
	queue core.EventQueue,
	cursor core.CursorStore,
	dead core.DeadLetterStore,
	opts ...Option,
) *Poller {
	defaultObserver := core.NewObserver("crmsync.poller", nil, nil)
	p := &Poller{
		fetcher:  fetcher,
		queue:    queue,
		cursor:   cursor,
		dead:     dead,
		cfg:      cfg,
		clock:    core.SystemClock(),
		observer: defaultObserver,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.observer == defaultObserver {
		defaultObserver.Now = p.clock.Time
	}
	p.loop = &core.Loop{
		Clock:    p.clock,
		Interval: p.interval,
		Tick: func(ctx context.Context) {
			_, _ = p.SyncNow(ctx)
		},
	}
	return p
}

func (p *Poller) Configure(cfg core.SyncConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

func (p *Poller) config() core.SyncConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SyncNow fetches every page after the cursor. The cursor only advances
// once the page is in the queue.
func (p *Poller) SyncNow(ctx context.Context) (result PollResult, err error) {
	if p == nil || p.fetcher == nil || p.queue == nil || p.cursor == nil {
		return PollResult{}, core.ConfigError("poller", "poller requires a fetcher, queue and cursor store")
	}
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	startedAt := p.clock.Time()
	defer func() {
		p.recordPoll(err)
		p.observer.Observe(ctx, "poll", startedAt, err, map[string]any{
			"fetched":    result.Fetched,
			"queued":     result.Queued,
			"overflowed": result.Overflowed,
			"cursor":     result.Cursor,
		})
	}()

	since, err := p.loadCursor(ctx)
	if err != nil {
		return PollResult{}, err
	}
	result.Cursor = since
	limit := p.config().Polling.PageLimit

	for {
		page, err := p.fetcher.Fetch(ctx, since, limit)
		if err != nil {
			return result, err
		}
		if len(page.Events) == 0 {
			return result, nil
		}
		result.Fetched += len(page.Events)
		for _, event := range page.Events {
			queued, overflowed, err := p.enqueue(ctx, event)
			if err != nil {
				return result, err
			}
			if queued {
				result.Queued++
			}
			result.Overflowed += overflowed
		}

		next := page.LastEventID
		for _, event := range page.Events {
			if event.Sequence > next {
				next = event.Sequence
			}
		}
		if next <= since {
			return result, nil
		}
		if err := p.cursor.Save(ctx, strconv.FormatInt(next, 10)); err != nil {
			return result, err
		}
		since = next
		result.Cursor = next
		if limit <= 0 || len(page.Events) < limit {
			return result, nil
		}
	}
}

// QueueEvent adds a locally synthesized event. It reports whether the event
// was added.
func (p *Poller) QueueEvent(ctx context.Context, event core.CanonicalEvent) (bool, error) {
	if p == nil || p.queue == nil {
		return false, core.ConfigError("poller.queue", "poller requires an event queue")
	}
	if strings.TrimSpace(event.ID) == "" {
		return false, core.BadInputError("event id is required", nil)
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = p.clock.Time()
	}
	queued, _, err := p.enqueue(ctx, event)
	return queued, err
}

func (p *Poller) enqueue(ctx context.Context, event core.CanonicalEvent) (bool, int, error) {
	exists, err := p.queue.Contains(ctx, event.ID)
	if err != nil {
		return false, 0, err
	}
	item := core.QueuedEvent{Event: event, EnqueuedAt: p.clock.Time()}
	if exists {
		if p.config().Features.Deduplicate {
			p.observer.Debug(ctx, "duplicate event ignored", map[string]any{"event_id": event.ID})
			return false, 0, nil
		}
		return true, 0, p.queue.Requeue(ctx, item)
	}

	overflowed, err := p.makeRoom(ctx)
	if err != nil {
		return false, overflowed, err
	}
	if err := p.queue.Append(ctx, item); err != nil {
		return false, overflowed, err
	}
	return true, overflowed, nil
}

// makeRoom moves the oldest events to dead letters until one more fits.
func (p *Poller) makeRoom(ctx context.Context) (int, error) {
	limit := p.config().Processing.MaxQueueSize
	if limit <= 0 {
		return 0, nil
	}
	moved := 0
	for {
		length, err := p.queue.Len(ctx)
		if err != nil {
			return moved, err
		}
		if length < limit {
			return moved, nil
		}
		oldest, ok, err := p.queue.Oldest(ctx)
		if err != nil || !ok {
			return moved, err
		}
		if p.dead != nil {
			now := p.clock.Time()
			if err := p.dead.Put(ctx, core.DeadLetter{
				ID:         oldest.Event.ID,
				Event:      oldest.Event,
				Attempts:   oldest.Attempts,
				Reason:     ReasonQueueOverflow,
				EnqueuedAt: oldest.EnqueuedAt,
				DeadAt:     now,
			}); err != nil {
				return moved, err
			}
		}
		if err := p.queue.Remove(ctx, oldest.Event.ID); err != nil {
			return moved, err
		}
		moved++
		p.observer.Warn(ctx, "event queue full, oldest event dead lettered", map[string]any{
			"event_id":   oldest.Event.ID,
			"event_type": string(oldest.Event.EventType),
			"limit":      limit,
		})
	}
}

// Start begins polling on the configured interval. It does nothing when
// polling is disabled or already running.
func (p *Poller) Start(ctx context.Context) error {
	if p == nil {
		return core.ConfigError("poller", "poller is not configured")
	}
	cfg := p.config()
	if !cfg.Features.Enabled {
		p.observer.Info(ctx, "polling disabled", nil)
		return nil
	}
	if p.fetcher == nil {
		return core.ConfigError("polling.gateway_url", "gateway url is not configured")
	}
	if p.loop.Start(ctx) {
		p.observer.Info(ctx, "polling started", map[string]any{"interval": p.interval().String()})
	}
	return nil
}

func (p *Poller) Stop() {
	if p == nil || !p.loop.Running() {
		return
	}
	p.loop.Stop()
	p.observer.Info(context.Background(), "polling stopped", nil)
}

func (p *Poller) Status(ctx context.Context) Status {
	status := Status{
		Enabled: p.config().Features.Enabled,
		Polling: p.loop.Running(),
	}
	if p.cursor != nil {
		if cursor, err := p.loadCursor(ctx); err == nil {
			status.LastEventID = cursor
		}
	}
	if p.queue != nil {
		if length, err := p.queue.Len(ctx); err == nil {
			status.QueueLength = length
		}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastPollAt != nil {
		at := *p.lastPollAt
		status.LastPollAt = &at
	}
	status.LastError = p.lastError
	return status
}

func (p *Poller) loadCursor(ctx context.Context) (int64, error) {
	raw, err := p.cursor.Load(ctx)
	if err != nil {
		return 0, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, core.BadInputError("stored cursor is not a sequence", map[string]any{"cursor": raw})
	}
	return cursor, nil
}

func (p *Poller) recordPoll(err error) {
	now := p.clock.Time()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPollAt = &now
	if err != nil {
		p.lastError = err.Error()
		return
	}
	p.lastError = ""
}

func (p *Poller) interval() time.Duration {
	if interval := p.config().Polling.Interval; interval > 0 {
		return interval
	}
	return core.DefaultConfig().Polling.Interval
}

package sync

import (
	"context"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

const (
	ReasonUnprocessable  = "unprocessable"
	ReasonRejected       = "rejected"
	ReasonConflict       = "conflict"
	ReasonRetryExhausted = "retry_exhausted"
)

// Resolver settles a held conflict for one entity kind.
type Resolver interface {
	Resolve(ctx context.Context, localID string, keep core.ConflictKeep) error
}

// BatchResult counts what one RunOnce did with the events it took. Deferred
// events waited behind a retried event for the same entity.
type BatchResult struct {
	Processed    int
	Skipped      int
	Retried      int
	Deferred     int
	DeadLettered int
}

func (r BatchResult) Total() int {
	return r.Processed + r.Skipped + r.Retried + r.Deferred + r.DeadLettered
}

type Status struct {
	Running     bool
	QueueLength int
	DeadLetters int
	LastRunAt   *time.Time
	LastError   string
	LastBatch   BatchResult
}

type Option func(*Processor)

func WithClock(clock core.Clock) Option {
	return func(p *Processor) {
		p.clock = clock
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(p *Processor) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// WithHandler routes events of one family to handler.
func WithHandler(family core.EventFamily, handler core.EventHandler) Option {
	return func(p *Processor) {
		if handler != nil {
			p.handlers[family] = handler
		}
	}
}

func WithResolver(kind core.EntityKind, resolver Resolver) Option {
	return func(p *Processor) {
		if resolver != nil {
			p.resolvers[kind] = resolver
		}
	}
}

// Processor drains the event queue into the entity handlers.
type Processor struct {
	queue core.EventQueue
	dead  core.DeadLetterStore
	seen  core.SeenSet

	handlers  map[core.EventFamily]core.EventHandler
	resolvers map[core.EntityKind]Resolver

	clock    core.Clock
	observer *core.Observer
	loop     *core.Loop

	mu        gosync.RWMutex
	cfg       core.SyncConfig
	lastRunAt *time.Time
	lastError string
	lastBatch BatchResult

	runMu gosync.Mutex
	held  map[string]time.Time
}

func NewProcessor(
	cfg core.SyncConfig,
	queue core.EventQueue,
	dead core.DeadLetterStore,
	seen core.SeenSet,
	opts ...Option,
) *Processor {
	defaultObserver := core.NewObserver("crmsync.sync", nil, nil)
	p := &Processor{
		queue:     queue,
		dead:      dead,
		seen:      seen,
		cfg:       cfg,
		handlers:  map[core.EventFamily]core.EventHandler{},
		resolvers: map[core.EntityKind]Resolver{},
		held:      map[string]time.Time{},
		clock:     core.SystemClock(),
		observer:  defaultObserver,
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
		Interval: p.batchDelay,
		Tick: func(ctx context.Context) {
			_, _ = p.RunOnce(ctx)
		},
	}
	return p
}

func (p *Processor) Configure(cfg core.SyncConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

func (p *Processor) config() core.SyncConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeRetried
	outcomeDeadLettered
)

// RunOnce takes up to BatchSize due events and applies them entity by entity.
// Within an entity, events apply in ReceivedAt then Sequence order and a
// retried event holds back the ones after it, in this batch and in later
// batches until its next attempt is due.
func (p *Processor) RunOnce(ctx context.Context) (result BatchResult, err error) {
	if p == nil || p.queue == nil {
		return BatchResult{}, core.ConfigError("sync.queue", "processor requires an event queue")
	}
	p.runMu.Lock()
	defer p.runMu.Unlock()

	startedAt := p.clock.Time()
	defer func() {
		p.recordRun(result, err)
		if result.Total() == 0 && err == nil {
			return
		}
		p.observer.Observe(ctx, "process_batch", startedAt, err, map[string]any{
			"processed":     result.Processed,
			"skipped":       result.Skipped,
			"retried":       result.Retried,
			"deferred":      result.Deferred,
			"dead_lettered": result.DeadLettered,
		})
	}()

	cfg := p.config()
	now := p.clock.Time()
	batchSize := cfg.Processing.BatchSize
	if batchSize <= 0 {
		batchSize = core.DefaultConfig().Processing.BatchSize
	}
	due, err := p.queue.Due(ctx, now, batchSize)
	if err != nil {
		return BatchResult{}, err
	}

	for key, until := range p.held {
		if !until.After(now) {
			delete(p.held, key)
		}
	}

	for _, group := range groupByEntity(due) {
		var heldUntil *time.Time
		if until, ok := p.held[group[0].Event.EntityKey()]; ok {
			heldUntil = &until
		}
		for _, item := range group {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if heldUntil != nil {
				item.NextAttemptAt = *heldUntil
				if err := p.queue.Requeue(ctx, item); err != nil {
					return result, err
				}
				result.Deferred++
				continue
			}
			out, next, err := p.apply(ctx, cfg, item, now)
			if err != nil {
				return result, err
			}
			switch out {
			case outcomeProcessed:
				result.Processed++
			case outcomeSkipped:
				result.Skipped++
			case outcomeRetried:
				result.Retried++
				heldUntil = &next
				p.held[item.Event.EntityKey()] = next
			case outcomeDeadLettered:
				result.DeadLettered++
			}
		}
	}
	return result, nil
}

// apply runs one queued event. The returned error is a store failure; handler
// failures are folded into the outcome.
func (p *Processor) apply(ctx context.Context, cfg core.SyncConfig, item core.QueuedEvent, now time.Time) (outcome, time.Time, error) {
	event := item.Event
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.EventType),
		"entity_key": event.EntityKey(),
	}

	if event.Unprocessable {
		return outcomeDeadLettered, time.Time{}, p.deadLetter(ctx, item, ReasonUnprocessable, event.Error, now)
	}

	if cfg.Features.Deduplicate && p.seen != nil {
		seen, err := p.seen.Seen(ctx, event.ID)
		if err != nil {
			return 0, time.Time{}, err
		}
		if seen {
			p.observer.Debug(ctx, "event already applied", fields)
			return outcomeSkipped, time.Time{}, p.queue.Remove(ctx, event.ID)
		}
	}

	handler, ok := p.handlers[event.EventType.Family()]
	if !ok {
		p.observer.Debug(ctx, "no handler for event family", fields)
		return outcomeSkipped, time.Time{}, p.queue.Remove(ctx, event.ID)
	}

	pullErr := handler.Pull(ctx, event)
	if pullErr == nil {
		if p.seen != nil {
			if err := p.seen.Mark(ctx, event.ID, cfg.Gateway.EventTTL); err != nil {
				p.observer.Warn(ctx, "mark applied event failed", mergeFields(fields, map[string]any{"error": err.Error()}))
			}
		}
		return outcomeProcessed, time.Time{}, p.queue.Remove(ctx, event.ID)
	}

	switch {
	case core.HasTextCode(pullErr, core.ErrorConflict):
		return outcomeDeadLettered, time.Time{}, p.deadLetter(ctx, item, ReasonConflict, pullErr.Error(), now)
	case !core.IsRetryable(pullErr):
		return outcomeDeadLettered, time.Time{}, p.deadLetter(ctx, item, ReasonRejected, pullErr.Error(), now)
	}

	item.Attempts++
	item.LastError = pullErr.Error()
	if item.Attempts >= cfg.Processing.RetryAttempts {
		exhausted := core.RetryExhaustedError(pullErr, item.Attempts, fields)
		return outcomeDeadLettered, time.Time{}, p.deadLetter(ctx, item, ReasonRetryExhausted, exhausted.Error(), now)
	}
	delay := core.ExponentialBackoff{
		Initial: cfg.Processing.RetryDelay,
		Max:     cfg.Processing.MaxRetryDelay,
	}.NextDelay(item.Attempts)
	if hint, ok := core.RetryAfter(pullErr); ok && hint > delay {
		delay = hint
	}
	item.NextAttemptAt = now.Add(delay)
	if err := p.queue.Requeue(ctx, item); err != nil {
		return 0, time.Time{}, err
	}
	p.observer.Warn(ctx, "event apply failed, retry scheduled", mergeFields(fields, map[string]any{
		"attempts":        item.Attempts,
		"next_attempt_at": item.NextAttemptAt.Format(time.RFC3339),
		"error":           item.LastError,
	}))
	return outcomeRetried, item.NextAttemptAt, nil
}

func (p *Processor) deadLetter(ctx context.Context, item core.QueuedEvent, reason string, lastError string, now time.Time) error {
	if p.dead != nil {
		if err := p.dead.Put(ctx, core.DeadLetter{
			ID:         item.Event.ID,
			Event:      item.Event,
			Attempts:   item.Attempts,
			Reason:     reason,
			LastError:  lastError,
			EnqueuedAt: item.EnqueuedAt,
			DeadAt:     now,
		}); err != nil {
			return err
		}
	}
	if err := p.queue.Remove(ctx, item.Event.ID); err != nil {
		return err
	}
	p.observer.Error(ctx, "event dead lettered", map[string]any{
		"event_id":   item.Event.ID,
		"event_type": string(item.Event.EventType),
		"entity_key": item.Event.EntityKey(),
		"attempts":   item.Attempts,
		"reason":     reason,
		"error":      lastError,
	})
	return nil
}

// Run processes batches until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	if p == nil || p.queue == nil {
		return core.ConfigError("sync.queue", "processor requires an event queue")
	}
	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.clock.Sleep(ctx, p.batchDelay()); err != nil {
			return err
		}
	}
}

func (p *Processor) Start(ctx context.Context) error {
	if p == nil || p.queue == nil {
		return core.ConfigError("sync.queue", "processor requires an event queue")
	}
	if !p.config().Features.Enabled {
		p.observer.Info(ctx, "sync processing disabled", nil)
		return nil
	}
	if p.loop.Start(ctx) {
		p.observer.Info(ctx, "sync processing started", map[string]any{"batch_delay": p.batchDelay().String()})
	}
	return nil
}

func (p *Processor) Stop() {
	if p == nil || !p.loop.Running() {
		return
	}
	p.loop.Stop()
	p.observer.Info(context.Background(), "sync processing stopped", nil)
}

func (p *Processor) DeadLetters(ctx context.Context) ([]core.DeadLetter, error) {
	if p == nil || p.dead == nil {
		return nil, core.ConfigError("sync.dead_letters", "processor has no dead letter store")
	}
	return p.dead.List(ctx)
}

// Requeue moves a dead letter back onto the queue with a fresh retry budget.
func (p *Processor) Requeue(ctx context.Context, id string) error {
	if p == nil || p.dead == nil || p.queue == nil {
		return core.ConfigError("sync.dead_letters", "processor has no dead letter store")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.BadInputError("dead letter id is required", nil)
	}
	letter, err := p.dead.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := p.queue.Append(ctx, core.QueuedEvent{
		Event:      letter.Event,
		EnqueuedAt: p.clock.Time(),
	}); err != nil {
		return err
	}
	if err := p.dead.Delete(ctx, id); err != nil {
		return err
	}
	p.observer.Info(ctx, "dead letter requeued", map[string]any{"event_id": id, "reason": letter.Reason})
	return nil
}

// ResolveConflict settles a held entity by keeping the local or remote side.
func (p *Processor) ResolveConflict(ctx context.Context, kind core.EntityKind, localID string, keep core.ConflictKeep) (err error) {
	startedAt := p.clock.Time()
	defer func() {
		p.observer.Observe(ctx, "resolve_conflict", startedAt, err, map[string]any{
			"entity_kind": string(kind),
			"local_id":    localID,
			"keep":        string(keep),
		})
	}()
	if !keep.Valid() {
		return core.BadInputError("conflict keep must be local or remote", map[string]any{"keep": string(keep)})
	}
	localID = strings.TrimSpace(localID)
	if localID == "" {
		return core.BadInputError("local id is required", nil)
	}
	resolver, ok := p.resolvers[kind]
	if !ok {
		return core.BadInputError("entity kind has no conflict resolver", map[string]any{"entity_kind": string(kind)})
	}
	return resolver.Resolve(ctx, localID, keep)
}

func (p *Processor) Status(ctx context.Context) Status {
	status := Status{Running: p.loop.Running()}
	if p.queue != nil {
		if length, err := p.queue.Len(ctx); err == nil {
			status.QueueLength = length
		}
	}
	if p.dead != nil {
		if letters, err := p.dead.List(ctx); err == nil {
			status.DeadLetters = len(letters)
		}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastRunAt != nil {
		at := *p.lastRunAt
		status.LastRunAt = &at
	}
	status.LastError = p.lastError
	status.LastBatch = p.lastBatch
	return status
}

func (p *Processor) recordRun(result BatchResult, err error) {
	now := p.clock.Time()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRunAt = &now
	p.lastBatch = result
	if err != nil {
		p.lastError = err.Error()
		return
	}
	p.lastError = ""
}

func (p *Processor) batchDelay() time.Duration {
	if delay := p.config().Processing.BatchDelay; delay > 0 {
		return delay
	}
	return core.DefaultConfig().Processing.BatchDelay
}

// groupByEntity keeps the first-seen order of entities and sorts each group.
func groupByEntity(items []core.QueuedEvent) [][]core.QueuedEvent {
	index := map[string]int{}
	groups := [][]core.QueuedEvent{}
	for _, item := range items {
		key := item.Event.EntityKey()
		at, ok := index[key]
		if !ok {
			at = len(groups)
			index[key] = at
			groups = append(groups, nil)
		}
		groups[at] = append(groups[at], item)
	}
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			left, right := group[i].Event, group[j].Event
			if !left.ReceivedAt.Equal(right.ReceivedAt) {
				return left.ReceivedAt.Before(right.ReceivedAt)
			}
			return left.Sequence < right.Sequence
		})
	}
	return groups
}

func mergeFields(left map[string]any, right map[string]any) map[string]any {
	merged := make(map[string]any, len(left)+len(right))
	for key, value := range left {
		merged[key] = value
	}
	for key, value := range right {
		merged[key] = value
	}
	return merged
}

package entities

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/outbound"
)

// Requester is the slice of the outbound client used by the sync modules.
type Requester interface {
	Do(ctx context.Context, req core.OutboundRequest) (outbound.Response, error)
	Offline() bool
	RegisterCompletion(kind core.EntityKind, handler outbound.CompletionHandler)
}

type PushResult struct {
	LocalID   string
	RemoteID  string
	Operation core.RequestOperation
	Queued    bool
	Skipped   bool
	Reason    string
}

type BatchPushResult struct {
	Synced  int
	Failed  int
	Total   int
	Pending int
	Skipped int
	Errors  map[string]string
}

// PushSummary aggregates one push pass over every entity kind.
type PushSummary struct {
	Clients  BatchPushResult
	Quotes   BatchPushResult
	Tasks    BatchPushResult
	Disabled bool
}

func (s PushSummary) Failed() int {
	return s.Clients.Failed + s.Quotes.Failed + s.Tasks.Failed
}

type Option func(*base)

func WithClock(clock core.Clock) Option {
	return func(b *base) {
		b.clock = clock
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(b *base) {
		if observer != nil {
			b.observer = observer
		}
	}
}

type base struct {
	api      Requester
	clock    core.Clock
	observer *core.Observer

	mu  sync.RWMutex
	cfg core.SyncConfig
}

func newBase(name string, cfg core.SyncConfig, api Requester, opts []Option) *base {
	defaultObserver := core.NewObserver(name, nil, nil)
	b := &base{
		api:      api,
		clock:    core.SystemClock(),
		observer: defaultObserver,
		cfg:      cfg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.observer == defaultObserver {
		defaultObserver.Now = b.clock.Time
	}
	return b
}

// Configure swaps the runtime config used by subsequent operations.
func (b *base) Configure(cfg core.SyncConfig) {
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
}

func (b *base) config() core.SyncConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *base) now() time.Time {
	return b.clock.Time()
}

// resolve runs the configured conflict policy for an inbound change.
func (b *base) resolve(state core.SyncState, remoteAt time.Time) core.ConflictOutcome {
	cfg := b.config()
	return core.ResolveConflict(core.ConflictInput{
		Policy:    cfg.ConflictPolicy(),
		Local:     state,
		RemoteAt:  remoteAt,
		Tolerance: cfg.Features.ClockSkewTolerance,
	})
}

// skipStale reports whether a remote change predates the last change already
// applied to the record. Events can reach the processor in separate batches
// out of order, so an older change must not overwrite a newer one.
func (b *base) skipStale(ctx context.Context, kind core.EntityKind, state core.SyncState, event core.CanonicalEvent, remoteAt time.Time) bool {
	if state.LastSyncedAt == nil || !remoteAt.Before(*state.LastSyncedAt) {
		return false
	}
	b.observer.Debug(ctx, "stale crm change skipped", map[string]any{
		"entity_kind":    string(kind),
		"local_id":       state.LocalID,
		"event_id":       event.ID,
		"remote_at":      remoteAt,
		"last_synced_at": *state.LastSyncedAt,
	})
	return true
}

func (b *base) logOutcome(ctx context.Context, kind core.EntityKind, localID string, outcome core.ConflictOutcome) {
	if !outcome.Conflict {
		return
	}
	fields := map[string]any{
		"entity_kind": string(kind),
		"local_id":    localID,
		"decision":    string(outcome.Decision),
		"reason":      outcome.Reason,
	}
	if outcome.Decision == core.DecisionHold {
		b.observer.Error(ctx, "sync conflict requires manual resolution", fields)
		return
	}
	b.observer.Warn(ctx, "sync conflict resolved", fields)
}

func pushAll[T any](
	ctx context.Context,
	b *base,
	items []T,
	localID func(T) string,
	push func(context.Context, T) (PushResult, error),
) (BatchPushResult, error) {
	result := BatchPushResult{Total: len(items), Errors: map[string]string{}}
	delay := b.config().API.InterItemDelay
	for i, item := range items {
		if i > 0 && delay > 0 {
			if err := b.clock.Sleep(ctx, delay); err != nil {
				return result, err
			}
		}
		res, err := push(ctx, item)
		switch {
		case err != nil:
			result.Failed++
			result.Errors[localID(item)] = err.Error()
		case res.Skipped:
			result.Skipped++
		case res.Queued:
			result.Pending++
		default:
			result.Synced++
		}
	}
	return result, nil
}

func needsPush(state core.SyncState) bool {
	if state.Deleted {
		return false
	}
	switch state.SyncStatus {
	case core.SyncStatusUnsynced, core.SyncStatusPending, core.SyncStatusFailed, "":
		return true
	}
	return false
}

func eventTime(at *time.Time, event core.CanonicalEvent) time.Time {
	if at != nil && !at.IsZero() {
		return at.UTC()
	}
	return event.ReceivedAt.UTC()
}

func newLocalID(prefix string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return prefix + "_" + id.String(), nil
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

func requestOperation(state core.SyncState) core.RequestOperation {
	if strings.TrimSpace(state.RemoteID) == "" {
		return core.OperationCreate
	}
	return core.OperationUpdate
}

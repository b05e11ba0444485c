package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/webhooks"
	"github.com/uptrace/bun"
)

// DefaultSettleWindow is how long a stored event waits before polling
// clients see it.
const DefaultSettleWindow = 2 * time.Second

// GatewayEventStore keeps webhook events for polling clients. The table's
// autoincrement key is the event sequence.
//
// Sequences are taken at insert time but become visible at commit, so a
// concurrent writer can commit a higher sequence first. Since only serves
// the prefix of events older than SettleWindow, which keeps a cursor from
// moving past a sequence that has not committed yet.
type GatewayEventStore struct {
	db           *bun.DB
	SettleWindow time.Duration
}

func NewGatewayEventStore(db *bun.DB) (*GatewayEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &GatewayEventStore{db: db, SettleWindow: DefaultSettleWindow}, nil
}

// Put stores an event, keeping the sequence of an earlier delivery with the
// same id. Concurrent deliveries of one id resolve to the last write.
func (s *GatewayEventStore) Put(ctx context.Context, event core.CanonicalEvent, expiresAt time.Time) (core.CanonicalEvent, error) {
	if s == nil || s.db == nil {
		return core.CanonicalEvent{}, fmt.Errorf("sqlstore: gateway event store is not configured")
	}
	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		return core.CanonicalEvent{}, core.BadInputError("event id is required", nil)
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	record := &gatewayEventRecord{
		EventID:    event.ID,
		EventType:  string(event.EventType),
		Event:      event,
		ReceivedAt: event.ReceivedAt.UTC(),
		ExpiresAt:  expiresAt.UTC(),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (event_id) DO UPDATE").
		Set("event_type = EXCLUDED.event_type").
		Set("event = EXCLUDED.event").
		Set("expires_at = EXCLUDED.expires_at").
		Returning("seq").
		Exec(ctx)
	if err != nil {
		return core.CanonicalEvent{}, err
	}
	event.Sequence = record.Seq
	return event, nil
}

func (s *GatewayEventStore) Since(ctx context.Context, since int64, limit int, now time.Time) ([]core.CanonicalEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: gateway event store is not configured")
	}
	if limit <= 0 || limit > webhooks.DefaultPollLimit {
		limit = webhooks.DefaultPollLimit
	}
	var records []gatewayEventRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.seq > ?", since).
		Where("?TableAlias.expires_at > ?", now.UTC()).
		OrderExpr("?TableAlias.seq ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	settled := now.UTC().Add(-s.SettleWindow)
	out := make([]core.CanonicalEvent, 0, len(records))
	for _, record := range records {
		if s.SettleWindow > 0 && record.ReceivedAt.After(settled) {
			break
		}
		event := record.Event
		event.Sequence = record.Seq
		out = append(out, event)
	}
	return out, nil
}

func (s *GatewayEventStore) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: gateway event store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*gatewayEventRecord)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// EventQueueStore is the durable client side event log. Position orders
// the log and Requeue moves an event to the tail.
type EventQueueStore struct {
	db *bun.DB
}

func NewEventQueueStore(db *bun.DB) (*EventQueueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &EventQueueStore{db: db}, nil
}

func (s *EventQueueStore) Append(ctx context.Context, events ...core.QueuedEvent) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event queue store is not configured")
	}
	if len(events) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, event := range events {
			record, err := newQueuedEventRecord(event)
			if err != nil {
				return err
			}
			if _, err := tx.NewInsert().
				Model(record).
				On("CONFLICT (event_id) DO NOTHING").
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *EventQueueStore) Due(ctx context.Context, now time.Time, limit int) ([]core.QueuedEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event queue store is not configured")
	}
	var records []queuedEventRecord
	query := s.db.NewSelect().
		Model(&records).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.next_attempt_at IS NULL").
				WhereOr("?TableAlias.next_attempt_at <= ?", now.UTC())
		}).
		OrderExpr("?TableAlias.position ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	return queuedEventsToDomain(records), nil
}

func (s *EventQueueStore) Requeue(ctx context.Context, event core.QueuedEvent) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event queue store is not configured")
	}
	record, err := newQueuedEventRecord(event)
	if err != nil {
		return err
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*queuedEventRecord)(nil)).
			Where("event_id = ?", record.EventID).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
}

func (s *EventQueueStore) Remove(ctx context.Context, eventID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event queue store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*queuedEventRecord)(nil)).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Exec(ctx)
	return err
}

func (s *EventQueueStore) Contains(ctx context.Context, eventID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: event queue store is not configured")
	}
	return s.db.NewSelect().
		Model((*queuedEventRecord)(nil)).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Exists(ctx)
}

func (s *EventQueueStore) Oldest(ctx context.Context) (core.QueuedEvent, bool, error) {
	if s == nil || s.db == nil {
		return core.QueuedEvent{}, false, fmt.Errorf("sqlstore: event queue store is not configured")
	}
	record := &queuedEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		OrderExpr("?TableAlias.position ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.QueuedEvent{}, false, nil
		}
		return core.QueuedEvent{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *EventQueueStore) Len(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: event queue store is not configured")
	}
	return s.db.NewSelect().Model((*queuedEventRecord)(nil)).Count(ctx)
}

func (s *EventQueueStore) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event queue store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*queuedEventRecord)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return err
}

func newQueuedEventRecord(event core.QueuedEvent) (*queuedEventRecord, error) {
	id := strings.TrimSpace(event.Event.ID)
	if id == "" {
		return nil, core.BadInputError("queued event id is required", nil)
	}
	event.Event.ID = id
	enqueuedAt := event.EnqueuedAt.UTC()
	if event.EnqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}
	record := &queuedEventRecord{
		EventID:    id,
		Event:      event.Event,
		Attempts:   event.Attempts,
		EnqueuedAt: enqueuedAt,
		LastError:  event.LastError,
	}
	if !event.NextAttemptAt.IsZero() {
		next := event.NextAttemptAt.UTC()
		record.NextAttemptAt = &next
	}
	return record, nil
}

func (r *queuedEventRecord) toDomain() core.QueuedEvent {
	out := core.QueuedEvent{
		Event:      r.Event,
		Attempts:   r.Attempts,
		EnqueuedAt: r.EnqueuedAt.UTC(),
		LastError:  r.LastError,
	}
	if r.NextAttemptAt != nil {
		out.NextAttemptAt = r.NextAttemptAt.UTC()
	}
	return out
}

func queuedEventsToDomain(records []queuedEventRecord) []core.QueuedEvent {
	out := make([]core.QueuedEvent, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out
}

type DeadLetterStore struct {
	db *bun.DB
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &DeadLetterStore{db: db}, nil
}

// Put replaces any earlier letter for the same event.
func (s *DeadLetterStore) Put(ctx context.Context, letter core.DeadLetter) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	id := strings.TrimSpace(letter.ID)
	if id == "" {
		id = strings.TrimSpace(letter.Event.ID)
	}
	if id == "" {
		return core.BadInputError("dead letter id is required", nil)
	}
	deadAt := letter.DeadAt.UTC()
	if letter.DeadAt.IsZero() {
		deadAt = time.Now().UTC()
	}
	record := &deadLetterRecord{
		ID:         id,
		Event:      letter.Event,
		Attempts:   letter.Attempts,
		Reason:     strings.TrimSpace(letter.Reason),
		LastError:  letter.LastError,
		EnqueuedAt: letter.EnqueuedAt.UTC(),
		DeadAt:     deadAt,
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*deadLetterRecord)(nil)).
			Where("id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
}

func (s *DeadLetterStore) List(ctx context.Context) ([]core.DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	var records []deadLetterRecord
	if err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.dead_at ASC, ?TableAlias.id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.DeadLetter, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

func (s *DeadLetterStore) Get(ctx context.Context, id string) (core.DeadLetter, error) {
	if s == nil || s.db == nil {
		return core.DeadLetter{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	id = strings.TrimSpace(id)
	record := &deadLetterRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DeadLetter{}, core.NotFoundError("dead letter not found", map[string]any{"id": id})
		}
		return core.DeadLetter{}, err
	}
	return record.toDomain(), nil
}

func (s *DeadLetterStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*deadLetterRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

func (r *deadLetterRecord) toDomain() core.DeadLetter {
	return core.DeadLetter{
		ID:         r.ID,
		Event:      r.Event,
		Attempts:   r.Attempts,
		Reason:     r.Reason,
		LastError:  r.LastError,
		EnqueuedAt: r.EnqueuedAt.UTC(),
		DeadAt:     r.DeadAt.UTC(),
	}
}

package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const defaultSeenTTL = 24 * time.Hour

// SeenEventStore is the durable ledger of applied event ids.
type SeenEventStore struct {
	db  *bun.DB
	Now func() time.Time
}

func NewSeenEventStore(db *bun.DB) (*SeenEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &SeenEventStore{db: db}, nil
}

func (s *SeenEventStore) Seen(ctx context.Context, key string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: seen event store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	return s.db.NewSelect().
		Model((*seenEventRecord)(nil)).
		Where("?TableAlias.event_key = ?", key).
		Where("?TableAlias.expires_at > ?", s.now()).
		Exists(ctx)
}

func (s *SeenEventStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: seen event store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: seen event key is required")
	}
	if ttl <= 0 {
		ttl = defaultSeenTTL
	}
	record := &seenEventRecord{Key: key, ExpiresAt: s.now().Add(ttl)}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (event_key) DO UPDATE").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	return err
}

func (s *SeenEventStore) PurgeExpired(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: seen event store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*seenEventRecord)(nil)).
		Where("expires_at <= ?", s.now()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *SeenEventStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

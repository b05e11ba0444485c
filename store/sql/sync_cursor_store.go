package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const DefaultCursorName = "gateway_events"

// CursorStore keeps one named polling cursor.
type CursorStore struct {
	db   *bun.DB
	name string
}

func NewCursorStore(db *bun.DB, name string) (*CursorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultCursorName
	}
	return &CursorStore{db: db, name: name}, nil
}

// Load returns an empty cursor when nothing was saved yet.
func (s *CursorStore) Load(ctx context.Context) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("sqlstore: cursor store is not configured")
	}
	record, err := findCursor(ctx, s.db, s.name)
	if err != nil || record == nil {
		return "", err
	}
	return record.Cursor, nil
}

func (s *CursorStore) Save(ctx context.Context, cursor string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: cursor store is not configured")
	}
	cursor = strings.TrimSpace(cursor)
	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findCursor(ctx, tx, s.name)
		if err != nil {
			return err
		}
		if record == nil {
			record = &syncCursorRecord{Name: s.name, Cursor: cursor, UpdatedAt: now}
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if !isUniqueViolation(insertErr) {
					return insertErr
				}
			} else {
				return nil
			}
		}
		_, updateErr := tx.NewUpdate().
			Model((*syncCursorRecord)(nil)).
			Set("cursor = ?", cursor).
			Set("updated_at = ?", now).
			Where("name = ?", s.name).
			Exec(ctx)
		return updateErr
	})
}

func findCursor(ctx context.Context, db bun.IDB, name string) (*syncCursorRecord, error) {
	record := &syncCursorRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/entities"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// entityStore keeps one local entity kind. The full record lives in a json
// column; lookup columns are projected from it on every save.
type entityStore[T any, R any] struct {
	db       *bun.DB
	repo     repository.Repository[*R]
	kind     core.EntityKind
	state    func(*T) *core.SyncState
	toRecord func(T) *R
	toDomain func(*R) T
}

func newEntityStore[T any, R any](
	db *bun.DB,
	kind core.EntityKind,
	handlers repository.ModelHandlers[*R],
	state func(*T) *core.SyncState,
	toRecord func(T) *R,
	toDomain func(*R) T,
) (*entityStore[T, R], error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*R](db, handlers)
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", kind, err)
		}
	}
	return &entityStore[T, R]{
		db:       db,
		repo:     repo,
		kind:     kind,
		state:    state,
		toRecord: toRecord,
		toDomain: toDomain,
	}, nil
}

func (s *entityStore[T, R]) Get(ctx context.Context, localID string) (T, error) {
	var zero T
	localID = strings.TrimSpace(localID)
	record, found, err := s.first(ctx, repository.SelectBy("local_id", "=", localID))
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, core.NotFoundError(string(s.kind)+" not found", map[string]any{"local_id": localID})
	}
	return record, nil
}

func (s *entityStore[T, R]) FindByRemoteID(ctx context.Context, remoteID string) (T, bool, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		var zero T
		return zero, false, nil
	}
	return s.first(ctx, repository.SelectBy("remote_id", "=", remoteID))
}

// List returns records in the order they were first saved.
func (s *entityStore[T, R]) List(ctx context.Context) ([]T, error) {
	return s.list(ctx, repository.SelectRawProcessor(orderByCreation))
}

func (s *entityStore[T, R]) Save(ctx context.Context, record T) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: entity store is not configured")
	}
	state := s.state(&record)
	localID := strings.TrimSpace(state.LocalID)
	if localID == "" {
		return core.BadInputError(string(s.kind)+" local id is required", nil)
	}
	remoteID := strings.TrimSpace(state.RemoteID)
	row := s.toRecord(record)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if remoteID != "" {
			taken, err := tx.NewSelect().
				Model((*R)(nil)).
				Where("?TableAlias.remote_id = ?", remoteID).
				Where("?TableAlias.local_id <> ?", localID).
				Exists(ctx)
			if err != nil {
				return err
			}
			if taken {
				return core.BindingError(localID, "", remoteID)
			}
		}
		exists, err := tx.NewSelect().
			Model((*R)(nil)).
			Where("?TableAlias.local_id = ?", localID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			_, err = tx.NewUpdate().
				Model(row).
				ExcludeColumn("local_id", "created_at").
				Where("local_id = ?", localID).
				Exec(ctx)
			return err
		}
		_, err = s.repo.CreateTx(ctx, tx, row)
		return err
	})
}

func (s *entityStore[T, R]) Delete(ctx context.Context, localID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: entity store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*R)(nil)).
		Where("local_id = ?", strings.TrimSpace(localID)).
		Exec(ctx)
	return err
}

func (s *entityStore[T, R]) first(ctx context.Context, criteria ...repository.SelectCriteria) (T, bool, error) {
	var zero T
	criteria = append(criteria,
		repository.SelectRawProcessor(orderByCreation),
		repository.SelectPaginate(1, 0),
	)
	out, err := s.list(ctx, criteria...)
	if err != nil || len(out) == 0 {
		return zero, false, err
	}
	return out[0], true, nil
}

func (s *entityStore[T, R]) list(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: entity store is not configured")
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, record := range records {
		out = append(out, s.toDomain(record))
	}
	return out, nil
}

func orderByCreation(q *bun.SelectQuery) *bun.SelectQuery {
	return q.OrderExpr("?TableAlias.created_at ASC, ?TableAlias.local_id ASC")
}

type ClientStore struct {
	*entityStore[core.Client, clientRecord]
}

func NewClientStore(db *bun.DB) (*ClientStore, error) {
	base, err := newEntityStore(db, core.EntityClient, clientHandlers(),
		func(c *core.Client) *core.SyncState { return &c.SyncState },
		func(c core.Client) *clientRecord {
			return &clientRecord{
				LocalID:    strings.TrimSpace(c.LocalID),
				RemoteID:   optionalString(c.RemoteID),
				SyncStatus: string(c.SyncStatus),
				EmailKey:   entities.NormalizeEmail(c.Email),
				PhoneKey:   entities.NormalizePhone(c.Phone),
				Data:       c,
				CreatedAt:  time.Now().UTC(),
				UpdatedAt:  time.Now().UTC(),
			}
		},
		func(r *clientRecord) core.Client {
			client := r.Data
			client.LocalID = r.LocalID
			return client
		},
	)
	if err != nil {
		return nil, err
	}
	return &ClientStore{base}, nil
}

func (s *ClientStore) FindByEmail(ctx context.Context, email string) (core.Client, bool, error) {
	key := entities.NormalizeEmail(email)
	if key == "" {
		return core.Client{}, false, nil
	}
	return s.first(ctx, repository.SelectBy("email_key", "=", key))
}

func (s *ClientStore) FindByPhone(ctx context.Context, phone string) (core.Client, bool, error) {
	key := entities.NormalizePhone(phone)
	if key == "" {
		return core.Client{}, false, nil
	}
	return s.first(ctx, repository.SelectBy("phone_key", "=", key))
}

type QuoteStore struct {
	*entityStore[core.Quote, quoteRecord]
}

func NewQuoteStore(db *bun.DB) (*QuoteStore, error) {
	base, err := newEntityStore(db, core.EntityQuote, quoteHandlers(),
		func(q *core.Quote) *core.SyncState { return &q.SyncState },
		func(q core.Quote) *quoteRecord {
			record := &quoteRecord{
				LocalID:    strings.TrimSpace(q.LocalID),
				RemoteID:   optionalString(q.RemoteID),
				SyncStatus: string(q.SyncStatus),
				ClientID:   strings.TrimSpace(q.ClientID),
				Data:       q,
				CreatedAt:  time.Now().UTC(),
				UpdatedAt:  time.Now().UTC(),
			}
			if q.QuoteDate != nil {
				date := q.QuoteDate.UTC()
				record.QuoteDate = &date
			}
			return record
		},
		func(r *quoteRecord) core.Quote {
			quote := r.Data
			quote.LocalID = r.LocalID
			return quote
		},
	)
	if err != nil {
		return nil, err
	}
	return &QuoteStore{base}, nil
}

// ListByClient returns undated quotes first, then the rest by quote date.
func (s *QuoteStore) ListByClient(ctx context.Context, clientID string) ([]core.Quote, error) {
	return s.list(ctx,
		repository.SelectBy("client_id", "=", strings.TrimSpace(clientID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("CASE WHEN ?TableAlias.quote_date IS NULL THEN 0 ELSE 1 END ASC").
				OrderExpr("?TableAlias.quote_date ASC").
				OrderExpr("?TableAlias.created_at ASC, ?TableAlias.local_id ASC")
		}),
	)
}

type TaskStore struct {
	*entityStore[core.Task, taskRecord]
}

func NewTaskStore(db *bun.DB) (*TaskStore, error) {
	base, err := newEntityStore(db, core.EntityTask, taskHandlers(),
		func(t *core.Task) *core.SyncState { return &t.SyncState },
		func(t core.Task) *taskRecord {
			return &taskRecord{
				LocalID:    strings.TrimSpace(t.LocalID),
				RemoteID:   optionalString(t.RemoteID),
				SyncStatus: string(t.SyncStatus),
				ClientID:   strings.TrimSpace(t.ClientID),
				SourceRef:  strings.TrimSpace(t.SourceRef),
				Data:       t,
				CreatedAt:  time.Now().UTC(),
				UpdatedAt:  time.Now().UTC(),
			}
		},
		func(r *taskRecord) core.Task {
			task := r.Data
			task.LocalID = r.LocalID
			return task
		},
	)
	if err != nil {
		return nil, err
	}
	return &TaskStore{base}, nil
}

func (s *TaskStore) FindBySourceRef(ctx context.Context, ref string) (core.Task, bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return core.Task{}, false, nil
	}
	return s.first(ctx, repository.SelectBy("source_ref", "=", ref))
}

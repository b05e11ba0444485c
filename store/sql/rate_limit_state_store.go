package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/ratelimit"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RateLimitStateStore keeps the last observed budget per API bucket so a
// restarted engine does not hammer a throttled location.
type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitStateRecord](db, rateLimitStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit state repository wiring: %w", err)
		}
	}
	return &RateLimitStateStore{db: db, repo: repo}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	if s == nil || s.db == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key = ratelimit.NormalizeKey(key)
	if err := validateRateLimitKey(key); err != nil {
		return ratelimit.State{}, err
	}
	record, err := findRateLimitState(ctx, s.db, key)
	if err != nil {
		return ratelimit.State{}, err
	}
	if record == nil {
		return ratelimit.State{}, ratelimit.ErrStateNotFound
	}
	return record.toDomain(), nil
}

func (s *RateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	state.Key = ratelimit.NormalizeKey(state.Key)
	if err := validateRateLimitKey(state.Key); err != nil {
		return err
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findRateLimitState(ctx, tx, state.Key)
		if err != nil {
			return err
		}
		created := record == nil
		if created {
			record = &rateLimitStateRecord{
				ID:        uuid.NewString(),
				CreatedAt: state.UpdatedAt.UTC(),
			}
		}
		record.apply(state)

		if created {
			_, err = s.repo.CreateTx(ctx, tx, record)
			return err
		}
		_, err = tx.NewUpdate().
			Model(record).
			ExcludeColumn("created_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

func (r *rateLimitStateRecord) apply(state ratelimit.State) {
	r.ProviderID = state.Key.ProviderID
	r.ScopeType = state.Key.ScopeType
	r.ScopeID = state.Key.ScopeID
	r.BucketKey = state.Key.BucketKey
	r.BurstLimit = state.BurstLimit
	r.BurstRemaining = state.BurstRemaining
	r.IntervalMS = state.Interval.Milliseconds()
	r.DailyLimit = state.DailyLimit
	r.DailyRemaining = state.DailyRemaining
	r.ThrottledUntil = utcPointer(state.ThrottledUntil)
	r.LastStatus = state.LastStatus
	r.Attempts = state.Attempts
	r.Metadata = copyAnyMap(state.Metadata)
	r.UpdatedAt = state.UpdatedAt.UTC()
}

func (r *rateLimitStateRecord) toDomain() ratelimit.State {
	if r == nil {
		return ratelimit.State{}
	}
	return ratelimit.State{
		Key: core.RateLimitKey{
			ProviderID: r.ProviderID,
			ScopeType:  r.ScopeType,
			ScopeID:    r.ScopeID,
			BucketKey:  r.BucketKey,
		},
		BurstLimit:     r.BurstLimit,
		BurstRemaining: r.BurstRemaining,
		Interval:       time.Duration(r.IntervalMS) * time.Millisecond,
		DailyLimit:     r.DailyLimit,
		DailyRemaining: r.DailyRemaining,
		ThrottledUntil: utcPointer(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		UpdatedAt:      r.UpdatedAt.UTC(),
		Metadata:       copyAnyMap(r.Metadata),
	}
}

func findRateLimitState(ctx context.Context, db bun.IDB, key core.RateLimitKey) (*rateLimitStateRecord, error) {
	record := &rateLimitStateRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", key.ProviderID).
		Where("?TableAlias.scope_type = ?", key.ScopeType).
		Where("?TableAlias.scope_id = ?", key.ScopeID).
		Where("?TableAlias.bucket_key = ?", key.BucketKey).
		OrderExpr("?TableAlias.updated_at DESC").
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

// validateRateLimitKey allows an empty scope for buckets shared by the
// whole account.
func validateRateLimitKey(key core.RateLimitKey) error {
	if strings.TrimSpace(key.ProviderID) == "" {
		return core.BadInputError("rate-limit provider id is required", nil)
	}
	if strings.TrimSpace(key.BucketKey) == "" {
		return core.BadInputError("rate-limit bucket key is required", nil)
	}
	return nil
}

func utcPointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RequestStore persists the outbound request queue.
type RequestStore struct {
	db   *bun.DB
	repo repository.Repository[*outboundRequestRecord]
}

func NewRequestStore(db *bun.DB) (*RequestStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*outboundRequestRecord](db, outboundRequestHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid request repository wiring: %w", err)
		}
	}
	return &RequestStore{db: db, repo: repo}, nil
}

// Append stores a request, replacing an earlier one with the same id.
func (s *RequestStore) Append(ctx context.Context, req core.OutboundRequest) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: request store is not configured")
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return core.BadInputError("outbound request id is required", nil)
	}
	record := newOutboundRequestRecord(req)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := findRequestTx(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			_, err = s.repo.CreateTx(ctx, tx, record)
			return err
		}
		_, err = tx.NewUpdate().
			Model(record).
			ExcludeColumn("id").
			Where("id = ?", req.ID).
			Exec(ctx)
		return err
	})
}

func (s *RequestStore) Pending(ctx context.Context) ([]core.OutboundRequest, error) {
	return s.byStatus(ctx, core.RequestStatusQueued)
}

func (s *RequestStore) Failed(ctx context.Context) ([]core.OutboundRequest, error) {
	return s.byStatus(ctx, core.RequestStatusFailed)
}

func (s *RequestStore) Update(ctx context.Context, req core.OutboundRequest) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: request store is not configured")
	}
	req.ID = strings.TrimSpace(req.ID)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", req.ID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return core.NotFoundError("outbound request not found", map[string]any{"request_id": req.ID})
	}
	record := newOutboundRequestRecord(req)
	record.EnqueuedAt = records[0].EnqueuedAt
	_, err = s.repo.Update(ctx, record, repository.UpdateByID(req.ID))
	return err
}

func (s *RequestStore) Remove(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: request store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*outboundRequestRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

// Len counts requests still waiting to be sent.
func (s *RequestStore) Len(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: request store is not configured")
	}
	return s.db.NewSelect().
		Model((*outboundRequestRecord)(nil)).
		Where("?TableAlias.status = ?", string(core.RequestStatusQueued)).
		Count(ctx)
}

func (s *RequestStore) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: request store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*outboundRequestRecord)(nil)).
		Where("1 = 1").
		Exec(ctx)
	return err
}

func (s *RequestStore) byStatus(ctx context.Context, status core.RequestStatus) ([]core.OutboundRequest, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: request store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(status)),
		repository.OrderBy("enqueued_at ASC"),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.OutboundRequest, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func findRequestTx(ctx context.Context, tx bun.Tx, id string) (*outboundRequestRecord, error) {
	var records []outboundRequestRecord
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func newOutboundRequestRecord(req core.OutboundRequest) *outboundRequestRecord {
	now := time.Now().UTC()
	enqueuedAt := req.EnqueuedAt.UTC()
	if enqueuedAt.IsZero() {
		enqueuedAt = now
	}
	updatedAt := req.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = enqueuedAt
	}
	status := req.Status
	if status == "" {
		status = core.RequestStatusQueued
	}
	return &outboundRequestRecord{
		ID:            strings.TrimSpace(req.ID),
		Method:        strings.ToUpper(strings.TrimSpace(req.Method)),
		Endpoint:      strings.TrimSpace(req.Endpoint),
		Body:          string(req.Body),
		Attempts:      req.Attempts,
		Status:        string(status),
		LastError:     req.LastError,
		EntityKind:    string(req.EntityKind),
		EntityID:      req.EntityID,
		Operation:     string(req.Operation),
		EnqueuedAt:    enqueuedAt,
		NextAttemptAt: req.NextAttemptAt.UTC(),
		UpdatedAt:     updatedAt,
	}
}

func (r *outboundRequestRecord) toDomain() core.OutboundRequest {
	if r == nil {
		return core.OutboundRequest{}
	}
	req := core.OutboundRequest{
		ID:         r.ID,
		Method:     r.Method,
		Endpoint:   r.Endpoint,
		Attempts:   r.Attempts,
		EnqueuedAt: r.EnqueuedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
		Status:     core.RequestStatus(r.Status),
		LastError:  r.LastError,
		EntityKind: core.EntityKind(r.EntityKind),
		EntityID:   r.EntityID,
		Operation:  core.RequestOperation(r.Operation),
	}
	if !r.NextAttemptAt.IsZero() {
		req.NextAttemptAt = r.NextAttemptAt.UTC()
	}
	if r.Body != "" {
		req.Body = json.RawMessage(r.Body)
	}
	return req
}

package query

import (
	"context"

	"github.com/goliatone/go-crmsync/core"
)

const redacted = core.RedactedValue

// StatusReader reports a point-in-time status snapshot of type S.
type StatusReader[S any] interface {
	Status(ctx context.Context) S
}

type DeadLetterReader interface {
	DeadLetters(ctx context.Context) ([]core.DeadLetter, error)
}

type FailedRequestReader interface {
	FailedRequests(ctx context.Context) ([]core.OutboundRequest, error)
}

type ConfigReader interface {
	Config() core.SyncConfig
}

type StatusQuery[S any] struct {
	reader StatusReader[S]
}

func NewStatusQuery[S any](reader StatusReader[S]) *StatusQuery[S] {
	return &StatusQuery[S]{reader: reader}
}

func (q *StatusQuery[S]) Query(ctx context.Context, _ StatusMessage) (S, error) {
	if q == nil || q.reader == nil {
		var zero S
		return zero, queryDependencyError("query: status reader is required")
	}
	return q.reader.Status(ctx), nil
}

type DeadLettersQuery struct {
	reader DeadLetterReader
}

func NewDeadLettersQuery(reader DeadLetterReader) *DeadLettersQuery {
	return &DeadLettersQuery{reader: reader}
}

func (q *DeadLettersQuery) Query(ctx context.Context, msg DeadLettersMessage) ([]core.DeadLetter, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: dead letter reader is required")
	}
	letters, err := q.reader.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.DeadLetter, 0, len(letters))
	for _, letter := range letters {
		if msg.Reason != "" && letter.Reason != msg.Reason {
			continue
		}
		out = append(out, letter)
		if msg.Limit > 0 && len(out) == msg.Limit {
			break
		}
	}
	return out, nil
}

type FailedRequestsQuery struct {
	reader FailedRequestReader
}

func NewFailedRequestsQuery(reader FailedRequestReader) *FailedRequestsQuery {
	return &FailedRequestsQuery{reader: reader}
}

func (q *FailedRequestsQuery) Query(ctx context.Context, _ FailedRequestsMessage) ([]core.OutboundRequest, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: failed request reader is required")
	}
	return q.reader.FailedRequests(ctx)
}

type ConfigQuery struct {
	reader ConfigReader
}

func NewConfigQuery(reader ConfigReader) *ConfigQuery {
	return &ConfigQuery{reader: reader}
}

func (q *ConfigQuery) Query(_ context.Context, msg ConfigMessage) (core.SyncConfig, error) {
	if q == nil || q.reader == nil {
		return core.SyncConfig{}, queryDependencyError("query: config reader is required")
	}
	cfg := q.reader.Config()
	if msg.IncludeSecrets {
		return cfg, nil
	}
	if cfg.WebhookSecret != "" {
		cfg.WebhookSecret = redacted
	}
	if cfg.API.APIKey != "" {
		cfg.API.APIKey = redacted
	}
	return cfg, nil
}

package webhooks

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

// Delivery is one raw webhook request as received by the gateway.
type Delivery struct {
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
}

type IngestResult struct {
	StatusCode int
	Supported  bool
	Processed  bool
	Message    string
	Event      core.CanonicalEvent
}

// Processor verifies, transforms and stores webhook deliveries.
type Processor struct {
	Verifier   Verifier
	Store      core.EventStore
	TTL        time.Duration
	Subscribed func(providerType string) bool
	Clock      core.Clock
	Observer   *core.Observer
}

func NewProcessor(cfg core.SyncConfig, verifier Verifier, store core.EventStore) *Processor {
	ttl := cfg.Gateway.EventTTL
	if ttl <= 0 {
		ttl = core.DefaultConfig().Gateway.EventTTL
	}
	p := &Processor{
		Verifier:   verifier,
		Store:      store,
		TTL:        ttl,
		Subscribed: cfg.Subscribed,
		Clock:      core.SystemClock(),
		Observer:   core.NewObserver("crmsync.webhooks", nil, nil),
	}
	p.Observer.Now = func() time.Time { return p.Clock.Time() }
	return p
}

// Ingest runs one delivery through the gateway pipeline. Unsupported and
// unsubscribed types are acknowledged without being stored. Deliveries that
// cannot be mapped are stored as unprocessable so they reach dead letters.
func (p *Processor) Ingest(ctx context.Context, delivery Delivery) (result IngestResult, err error) {
	if p == nil || p.Store == nil {
		return IngestResult{StatusCode: http.StatusInternalServerError}, core.ConfigError("webhooks.store", "processor requires an event store")
	}
	startedAt := p.Clock.Time()
	defer func() {
		p.Observer.Observe(ctx, "webhook_ingest", startedAt, err, map[string]any{
			"event_id":    result.Event.ID,
			"event_type":  string(result.Event.EventType),
			"source_type": result.Event.SourceType,
			"status_code": result.StatusCode,
			"processed":   result.Processed,
		})
	}()

	if delivery.ReceivedAt.IsZero() {
		delivery.ReceivedAt = p.Clock.Time()
	}

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, delivery); err != nil {
			return IngestResult{StatusCode: http.StatusUnauthorized, Message: "Invalid signature"}, err
		}
	}

	event, err := Transform(delivery.Body, delivery.ReceivedAt)
	switch {
	case err == nil:
	case core.HasTextCode(err, core.ErrorBadInput):
		return IngestResult{StatusCode: http.StatusBadRequest, Message: "Invalid JSON"}, err
	case core.HasTextCode(err, core.ErrorEventUnsupported):
		return IngestResult{StatusCode: http.StatusOK, Message: "Event type not supported"}, nil
	case core.HasTextCode(err, core.ErrorTransformFailed) && event.ID != "":
		event.Unprocessable = true
		event.Error = err.Error()
		p.Observer.Warn(ctx, "webhook payload stored as unprocessable", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
	default:
		return IngestResult{StatusCode: http.StatusInternalServerError, Message: "Internal server error"}, err
	}

	if p.Subscribed != nil && !p.Subscribed(event.SourceType) {
		return IngestResult{StatusCode: http.StatusOK, Message: "Event type not supported", Event: event}, nil
	}

	stored, err := p.Store.Put(ctx, event, delivery.ReceivedAt.Add(p.ttl()))
	if err != nil {
		return IngestResult{StatusCode: http.StatusInternalServerError, Message: "Internal server error", Event: event}, err
	}
	return IngestResult{
		StatusCode: http.StatusOK,
		Supported:  true,
		Processed:  !stored.Unprocessable,
		Event:      stored,
	}, nil
}

// Poll returns stored events after the since cursor, oldest first.
func (p *Processor) Poll(ctx context.Context, since int64, limit int) ([]core.CanonicalEvent, error) {
	if p == nil || p.Store == nil {
		return nil, core.ConfigError("webhooks.store", "processor requires an event store")
	}
	if since < 0 {
		return nil, core.BadInputError("since must not be negative", map[string]any{"since": since})
	}
	return p.Store.Since(ctx, since, limit, p.Clock.Time())
}

// Prune drops events whose retention window has passed.
func (p *Processor) Prune(ctx context.Context) (int, error) {
	if p == nil || p.Store == nil {
		return 0, nil
	}
	removed, err := p.Store.PruneExpired(ctx, p.Clock.Time())
	if err == nil && removed > 0 {
		p.Observer.Debug(ctx, "pruned expired webhook events", map[string]any{"removed": removed})
	}
	return removed, err
}

func (p *Processor) ttl() time.Duration {
	if p != nil && p.TTL > 0 {
		return p.TTL
	}
	return 24 * time.Hour
}

// HeadersFrom flattens request headers into the single value form used by
// verifiers.
func HeadersFrom(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		out[key] = strings.TrimSpace(strings.Join(values, ","))
	}
	return out
}

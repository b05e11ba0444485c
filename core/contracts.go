package core

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type EventType string

const (
	EventContactUpdated     EventType = "contact-updated"
	EventOpportunityUpdated EventType = "opportunity-updated"
	EventTaskUpdated        EventType = "task-updated"
	EventNoteCreated        EventType = "note-created"
	EventMessageReceived    EventType = "message-received"
)

type EventFamily string

const (
	FamilyContact     EventFamily = "contact"
	FamilyOpportunity EventFamily = "opportunity"
	FamilyTask        EventFamily = "task"
	FamilyNote        EventFamily = "note"
	FamilyMessage     EventFamily = "message"
)

func (t EventType) Family() EventFamily {
	switch t {
	case EventContactUpdated:
		return FamilyContact
	case EventOpportunityUpdated:
		return FamilyOpportunity
	case EventTaskUpdated:
		return FamilyTask
	case EventNoteCreated:
		return FamilyNote
	case EventMessageReceived:
		return FamilyMessage
	default:
		return ""
	}
}

// CanonicalEvent is the provider agnostic form of a webhook notification.
// Sequence is assigned by the gateway store and orders the polling cursor.
type CanonicalEvent struct {
	ID            string          `json:"id"`
	Sequence      int64           `json:"sequence"`
	EventType     EventType       `json:"eventType"`
	SourceType    string          `json:"sourceType,omitempty"`
	SourceID      string          `json:"sourceId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ReceivedAt    time.Time       `json:"receivedAt"`
	Unprocessable bool            `json:"unprocessable,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// EntityKey groups events that touch the same remote entity.
func (e CanonicalEvent) EntityKey() string {
	family := string(e.EventType.Family())
	if family == "" {
		family = strings.TrimSpace(string(e.EventType))
	}
	source := strings.TrimSpace(e.SourceID)
	if source == "" {
		source = strings.TrimSpace(e.ID)
	}
	return family + ":" + source
}

func (e CanonicalEvent) DecodePayload(target any) error {
	if len(e.Payload) == 0 {
		return TransformError("event payload is empty", map[string]any{"event_id": e.ID})
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return WrapTransformError(err, "decode event payload", map[string]any{"event_id": e.ID})
	}
	return nil
}

// QueuedEvent is a CanonicalEvent held by the client side event queue.
type QueuedEvent struct {
	Event         CanonicalEvent
	Attempts      int
	NextAttemptAt time.Time
	EnqueuedAt    time.Time
	LastError     string
}

type DeadLetter struct {
	ID         string
	Event      CanonicalEvent
	Attempts   int
	Reason     string
	LastError  string
	EnqueuedAt time.Time
	DeadAt     time.Time
}

type EventQueue interface {
	Append(ctx context.Context, events ...QueuedEvent) error
	Due(ctx context.Context, now time.Time, limit int) ([]QueuedEvent, error)
	Requeue(ctx context.Context, event QueuedEvent) error
	Remove(ctx context.Context, eventID string) error
	Contains(ctx context.Context, eventID string) (bool, error)
	Oldest(ctx context.Context) (QueuedEvent, bool, error)
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

type DeadLetterStore interface {
	Put(ctx context.Context, letter DeadLetter) error
	List(ctx context.Context) ([]DeadLetter, error)
	Get(ctx context.Context, id string) (DeadLetter, error)
	Delete(ctx context.Context, id string) error
}

// EventStore holds gateway events for polling clients. Put assigns the
// sequence on first insert and keeps it when an id is delivered again.
type EventStore interface {
	Put(ctx context.Context, event CanonicalEvent, expiresAt time.Time) (CanonicalEvent, error)
	Since(ctx context.Context, since int64, limit int, now time.Time) ([]CanonicalEvent, error)
	PruneExpired(ctx context.Context, now time.Time) (int, error)
}

type CursorStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, cursor string) error
}

// SeenSet records event ids that were applied.
type SeenSet interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

type EventHandler interface {
	Pull(ctx context.Context, event CanonicalEvent) error
}

type EventHandlerFunc func(ctx context.Context, event CanonicalEvent) error

func (f EventHandlerFunc) Pull(ctx context.Context, event CanonicalEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type RequestStatus string

const (
	RequestStatusQueued RequestStatus = "queued"
	RequestStatusFailed RequestStatus = "failed"
	RequestStatusDone   RequestStatus = "done"
)

type RequestOperation string

const (
	OperationCreate RequestOperation = "create"
	OperationUpdate RequestOperation = "update"
	OperationDelete RequestOperation = "delete"
	OperationNote   RequestOperation = "note"
	OperationOther  RequestOperation = "other"
)

// OutboundRequest is a remote CRM call held by the request queue.
type OutboundRequest struct {
	ID            string           `json:"id"`
	Method        string           `json:"method"`
	Endpoint      string           `json:"endpoint"`
	Body          json.RawMessage  `json:"body,omitempty"`
	Attempts      int              `json:"attempts"`
	EnqueuedAt    time.Time        `json:"enqueuedAt"`
	// UpdatedAt is when Body was last captured from local state.
	UpdatedAt     time.Time        `json:"updatedAt"`
	NextAttemptAt time.Time        `json:"nextAttemptAt"`
	Status        RequestStatus    `json:"status"`
	LastError     string           `json:"lastError,omitempty"`
	EntityKind    EntityKind       `json:"entityKind,omitempty"`
	EntityID      string           `json:"entityId,omitempty"`
	Operation     RequestOperation `json:"operation,omitempty"`
}

type RequestStore interface {
	Append(ctx context.Context, req OutboundRequest) error
	Pending(ctx context.Context) ([]OutboundRequest, error)
	Update(ctx context.Context, req OutboundRequest) error
	Remove(ctx context.Context, id string) error
	Failed(ctx context.Context) ([]OutboundRequest, error)
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

type RateLimitKey struct {
	ProviderID string
	ScopeType  string
	ScopeID    string
	BucketKey  string
}

type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ResponseMeta) error
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// Clock abstracts timers so loops can be driven deterministically.
type Clock struct {
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

func SystemClock() Clock {
	return Clock{
		Now:   func() time.Time { return time.Now().UTC() },
		After: time.After,
	}
}

func (c Clock) Time() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// Sleep waits for d or until ctx is done.
func (c Clock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx != nil {
			return ctx.Err()
		}
		return nil
	}
	after := c.After
	if after == nil {
		after = time.After
	}
	if ctx == nil {
		<-after(d)
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-after(d):
		return nil
	}
}

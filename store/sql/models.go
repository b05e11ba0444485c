package sqlstore

import (
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/uptrace/bun"
)

type gatewayEventRecord struct {
	bun.BaseModel `bun:"table:crm_gateway_events,alias:cge"`

	Seq        int64               `bun:"seq,pk,autoincrement"`
	EventID    string              `bun:"event_id,notnull"`
	EventType  string              `bun:"event_type,notnull"`
	Event      core.CanonicalEvent `bun:"event,type:jsonb,notnull"`
	ReceivedAt time.Time           `bun:"received_at,notnull"`
	ExpiresAt  time.Time           `bun:"expires_at,notnull"`
}

type queuedEventRecord struct {
	bun.BaseModel `bun:"table:crm_event_queue,alias:ceq"`

	Position      int64               `bun:"position,pk,autoincrement"`
	EventID       string              `bun:"event_id,notnull"`
	Event         core.CanonicalEvent `bun:"event,type:jsonb,notnull"`
	Attempts      int                 `bun:"attempts,notnull"`
	NextAttemptAt *time.Time          `bun:"next_attempt_at,nullzero"`
	EnqueuedAt    time.Time           `bun:"enqueued_at,notnull"`
	LastError     string              `bun:"last_error,notnull"`
}

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:crm_dead_letters,alias:cdl"`

	ID         string              `bun:"id,pk"`
	Event      core.CanonicalEvent `bun:"event,type:jsonb,notnull"`
	Attempts   int                 `bun:"attempts,notnull"`
	Reason     string              `bun:"reason,notnull"`
	LastError  string              `bun:"last_error,notnull"`
	EnqueuedAt time.Time           `bun:"enqueued_at,notnull"`
	DeadAt     time.Time           `bun:"dead_at,notnull"`
}

type syncCursorRecord struct {
	bun.BaseModel `bun:"table:crm_sync_cursors,alias:csc"`

	Name      string    `bun:"name,pk"`
	Cursor    string    `bun:"cursor,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type seenEventRecord struct {
	bun.BaseModel `bun:"table:crm_seen_events,alias:cse"`

	Key       string    `bun:"event_key,pk"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}

type outboundRequestRecord struct {
	bun.BaseModel `bun:"table:crm_outbound_requests,alias:cor"`

	ID            string    `bun:"id,pk"`
	Method        string    `bun:"method,notnull"`
	Endpoint      string    `bun:"endpoint,notnull"`
	Body          string    `bun:"body,notnull"`
	Attempts      int       `bun:"attempts,notnull"`
	Status        string    `bun:"status,notnull"`
	LastError     string    `bun:"last_error,notnull"`
	EntityKind    string    `bun:"entity_kind,notnull"`
	EntityID      string    `bun:"entity_id,notnull"`
	Operation     string    `bun:"operation,notnull"`
	EnqueuedAt    time.Time `bun:"enqueued_at,notnull"`
	NextAttemptAt time.Time `bun:"next_attempt_at,nullzero"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type clientRecord struct {
	bun.BaseModel `bun:"table:crm_clients,alias:ccl"`

	LocalID    string      `bun:"local_id,pk"`
	RemoteID   *string     `bun:"remote_id"`
	SyncStatus string      `bun:"sync_status,notnull"`
	EmailKey   string      `bun:"email_key,notnull"`
	PhoneKey   string      `bun:"phone_key,notnull"`
	Data       core.Client `bun:"data,type:jsonb,notnull"`
	CreatedAt  time.Time   `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time   `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type quoteRecord struct {
	bun.BaseModel `bun:"table:crm_quotes,alias:cqu"`

	LocalID    string     `bun:"local_id,pk"`
	RemoteID   *string    `bun:"remote_id"`
	SyncStatus string     `bun:"sync_status,notnull"`
	ClientID   string     `bun:"client_id,notnull"`
	QuoteDate  *time.Time `bun:"quote_date,nullzero"`
	Data       core.Quote `bun:"data,type:jsonb,notnull"`
	CreatedAt  time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type taskRecord struct {
	bun.BaseModel `bun:"table:crm_tasks,alias:cta"`

	LocalID    string    `bun:"local_id,pk"`
	RemoteID   *string   `bun:"remote_id"`
	SyncStatus string    `bun:"sync_status,notnull"`
	ClientID   string    `bun:"client_id,notnull"`
	SourceRef  string    `bun:"source_ref,notnull"`
	Data       core.Task `bun:"data,type:jsonb,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:crm_rate_limit_states,alias:crl"`

	ID             string         `bun:"id,pk"`
	ProviderID     string         `bun:"provider_id,notnull"`
	ScopeType      string         `bun:"scope_type,notnull"`
	ScopeID        string         `bun:"scope_id,notnull"`
	BucketKey      string         `bun:"bucket_key,notnull"`
	BurstLimit     int            `bun:"burst_limit,notnull"`
	BurstRemaining int            `bun:"burst_remaining,notnull"`
	IntervalMS     int64          `bun:"interval_ms,notnull"`
	DailyLimit     int            `bun:"daily_limit,notnull"`
	DailyRemaining int            `bun:"daily_remaining,notnull"`
	ThrottledUntil *time.Time     `bun:"throttled_until,nullzero"`
	LastStatus     int            `bun:"last_status,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

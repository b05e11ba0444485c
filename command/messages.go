package command

import (
	"strings"

	"github.com/goliatone/go-crmsync/core"
)

const (
	TypeSyncNow           = "crmsync.command.sync_now"
	TypeProcessBatch      = "crmsync.command.process_batch"
	TypeQueueEvent        = "crmsync.command.event.queue"
	TypeSyncPending       = "crmsync.command.sync_pending"
	TypeFlushRequests     = "crmsync.command.requests.flush"
	TypeClearRequests     = "crmsync.command.requests.clear"
	TypeSetOffline        = "crmsync.command.offline.set"
	TypeUpdateConfig      = "crmsync.command.config.update"
	TypeResolveConflict   = "crmsync.command.conflict.resolve"
	TypeRequeueDeadLetter = "crmsync.command.dead_letter.requeue"
)

type SyncNowMessage struct{}

func (SyncNowMessage) Type() string { return TypeSyncNow }

func (SyncNowMessage) Validate() error { return nil }

type ProcessBatchMessage struct{}

func (ProcessBatchMessage) Type() string { return TypeProcessBatch }

func (ProcessBatchMessage) Validate() error { return nil }

// QueueEventMessage places an event on the local queue without a gateway
// round trip.
type QueueEventMessage struct {
	Event core.CanonicalEvent
}

func (QueueEventMessage) Type() string { return TypeQueueEvent }

func (m QueueEventMessage) Validate() error {
	if strings.TrimSpace(m.Event.ID) == "" {
		return commandValidationError("event.id", "event id is required")
	}
	if !m.Event.Unprocessable && m.Event.EventType.Family() == "" {
		return commandValidationError("event.event_type", "unsupported event type "+string(m.Event.EventType))
	}
	return nil
}

type SyncPendingMessage struct{}

func (SyncPendingMessage) Type() string { return TypeSyncPending }

func (SyncPendingMessage) Validate() error { return nil }

type FlushRequestsMessage struct{}

func (FlushRequestsMessage) Type() string { return TypeFlushRequests }

func (FlushRequestsMessage) Validate() error { return nil }

type ClearRequestsMessage struct{}

func (ClearRequestsMessage) Type() string { return TypeClearRequests }

func (ClearRequestsMessage) Validate() error { return nil }

type SetOfflineMessage struct {
	Offline bool
}

func (SetOfflineMessage) Type() string { return TypeSetOffline }

func (SetOfflineMessage) Validate() error { return nil }

// UpdateConfigMessage carries a partial config keyed like ConfigToMap.
type UpdateConfigMessage struct {
	Patch map[string]any
}

func (UpdateConfigMessage) Type() string { return TypeUpdateConfig }

func (m UpdateConfigMessage) Validate() error {
	if len(m.Patch) == 0 {
		return commandValidationError("patch", "config patch is required")
	}
	return nil
}

type ResolveConflictMessage struct {
	Kind    core.EntityKind
	LocalID string
	Keep    core.ConflictKeep
}

func (ResolveConflictMessage) Type() string { return TypeResolveConflict }

func (m ResolveConflictMessage) Validate() error {
	switch m.Kind {
	case core.EntityClient, core.EntityQuote, core.EntityTask:
	default:
		return commandValidationError("kind", "entity kind must be client, quote or task")
	}
	if strings.TrimSpace(m.LocalID) == "" {
		return commandValidationError("local_id", "local id is required")
	}
	if !m.Keep.Valid() {
		return commandValidationError("keep", "keep must be local or remote")
	}
	return nil
}

type RequeueDeadLetterMessage struct {
	EventID string
}

func (RequeueDeadLetterMessage) Type() string { return TypeRequeueDeadLetter }

func (m RequeueDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

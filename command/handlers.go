package command

import (
	"context"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/entities"
	"github.com/goliatone/go-crmsync/outbound"
	"github.com/goliatone/go-crmsync/poller"
	syncengine "github.com/goliatone/go-crmsync/sync"
	gocmd "github.com/goliatone/go-command"
)

// SyncService is the mutating surface of the sync engine.
type SyncService interface {
	SyncNow(ctx context.Context) (poller.PollResult, error)
	ProcessNow(ctx context.Context) (syncengine.BatchResult, error)
	QueueEvent(ctx context.Context, event core.CanonicalEvent) (bool, error)
	SyncPending(ctx context.Context) (entities.PushSummary, error)
	Flush(ctx context.Context) (outbound.FlushResult, error)
	ClearRequestQueue(ctx context.Context) error
	SetOffline(ctx context.Context, offline bool) (outbound.FlushResult, error)
	UpdateConfig(ctx context.Context, patch map[string]any) (core.SyncConfig, error)
	ResolveConflict(ctx context.Context, kind core.EntityKind, localID string, keep core.ConflictKeep) error
	Requeue(ctx context.Context, id string) error
}

type SyncNowCommand struct {
	service SyncService
}

func NewSyncNowCommand(service SyncService) *SyncNowCommand {
	return &SyncNowCommand{service: service}
}

func (c *SyncNowCommand) Execute(ctx context.Context, _ SyncNowMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.SyncNow(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ProcessBatchCommand struct {
	service SyncService
}

func NewProcessBatchCommand(service SyncService) *ProcessBatchCommand {
	return &ProcessBatchCommand{service: service}
}

func (c *ProcessBatchCommand) Execute(ctx context.Context, _ ProcessBatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.ProcessNow(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type QueueEventCommand struct {
	service SyncService
}

func NewQueueEventCommand(service SyncService) *QueueEventCommand {
	return &QueueEventCommand{service: service}
}

// Execute stores whether the event was queued. A duplicate of a queued event
// stores false.
func (c *QueueEventCommand) Execute(ctx context.Context, msg QueueEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	queued, err := c.service.QueueEvent(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, queued)
	return nil
}

type SyncPendingCommand struct {
	service SyncService
}

func NewSyncPendingCommand(service SyncService) *SyncPendingCommand {
	return &SyncPendingCommand{service: service}
}

func (c *SyncPendingCommand) Execute(ctx context.Context, _ SyncPendingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.SyncPending(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type FlushRequestsCommand struct {
	service SyncService
}

func NewFlushRequestsCommand(service SyncService) *FlushRequestsCommand {
	return &FlushRequestsCommand{service: service}
}

func (c *FlushRequestsCommand) Execute(ctx context.Context, _ FlushRequestsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.Flush(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ClearRequestsCommand struct {
	service SyncService
}

func NewClearRequestsCommand(service SyncService) *ClearRequestsCommand {
	return &ClearRequestsCommand{service: service}
}

func (c *ClearRequestsCommand) Execute(ctx context.Context, _ ClearRequestsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	return c.service.ClearRequestQueue(ctx)
}

type SetOfflineCommand struct {
	service SyncService
}

func NewSetOfflineCommand(service SyncService) *SetOfflineCommand {
	return &SetOfflineCommand{service: service}
}

// Execute stores the flush result of going back online. Going offline
// stores an empty result.
func (c *SetOfflineCommand) Execute(ctx context.Context, msg SetOfflineMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.SetOffline(ctx, msg.Offline)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateConfigCommand struct {
	service SyncService
}

func NewUpdateConfigCommand(service SyncService) *UpdateConfigCommand {
	return &UpdateConfigCommand{service: service}
}

func (c *UpdateConfigCommand) Execute(ctx context.Context, msg UpdateConfigMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.UpdateConfig(ctx, msg.Patch)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResolveConflictCommand struct {
	service SyncService
}

func NewResolveConflictCommand(service SyncService) *ResolveConflictCommand {
	return &ResolveConflictCommand{service: service}
}

func (c *ResolveConflictCommand) Execute(ctx context.Context, msg ResolveConflictMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	return c.service.ResolveConflict(ctx, msg.Kind, msg.LocalID, msg.Keep)
}

type RequeueDeadLetterCommand struct {
	service SyncService
}

func NewRequeueDeadLetterCommand(service SyncService) *RequeueDeadLetterCommand {
	return &RequeueDeadLetterCommand{service: service}
}

func (c *RequeueDeadLetterCommand) Execute(ctx context.Context, msg RequeueDeadLetterMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	return c.service.Requeue(ctx, msg.EventID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

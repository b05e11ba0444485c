package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[SyncNowMessage]           = (*SyncNowCommand)(nil)
	_ gocmd.Commander[ProcessBatchMessage]      = (*ProcessBatchCommand)(nil)
	_ gocmd.Commander[QueueEventMessage]        = (*QueueEventCommand)(nil)
	_ gocmd.Commander[SyncPendingMessage]       = (*SyncPendingCommand)(nil)
	_ gocmd.Commander[FlushRequestsMessage]     = (*FlushRequestsCommand)(nil)
	_ gocmd.Commander[ClearRequestsMessage]     = (*ClearRequestsCommand)(nil)
	_ gocmd.Commander[SetOfflineMessage]        = (*SetOfflineCommand)(nil)
	_ gocmd.Commander[UpdateConfigMessage]      = (*UpdateConfigCommand)(nil)
	_ gocmd.Commander[ResolveConflictMessage]   = (*ResolveConflictCommand)(nil)
	_ gocmd.Commander[RequeueDeadLetterMessage] = (*RequeueDeadLetterCommand)(nil)
)

package query

import (
	"github.com/goliatone/go-crmsync/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[StatusMessage, any]                            = (*StatusQuery[any])(nil)
	_ gocmd.Querier[DeadLettersMessage, []core.DeadLetter]         = (*DeadLettersQuery)(nil)
	_ gocmd.Querier[FailedRequestsMessage, []core.OutboundRequest] = (*FailedRequestsQuery)(nil)
	_ gocmd.Querier[ConfigMessage, core.SyncConfig]                = (*ConfigQuery)(nil)
)

package sqlstore

import (
	crmsync "github.com/goliatone/go-crmsync"
	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/entities"
	"github.com/goliatone/go-crmsync/ratelimit"
)

var (
	_ core.EventStore      = (*GatewayEventStore)(nil)
	_ core.EventQueue      = (*EventQueueStore)(nil)
	_ core.DeadLetterStore = (*DeadLetterStore)(nil)
	_ core.CursorStore     = (*CursorStore)(nil)
	_ core.SeenSet         = (*SeenEventStore)(nil)
	_ core.RequestStore    = (*RequestStore)(nil)
	_ entities.ClientStore = (*ClientStore)(nil)
	_ entities.QuoteStore  = (*QuoteStore)(nil)
	_ entities.TaskStore   = (*TaskStore)(nil)
	_ ratelimit.StateStore = (*RateLimitStateStore)(nil)
	_ ratelimit.StateStore = (*CachedRateLimitStateStore)(nil)
	_ entities.ClientStore = (*CachedClientStore)(nil)

	_ crmsync.StoreProvider = (*RepositoryFactory)(nil)
	_ crmsync.SeenPurger    = (*SeenEventStore)(nil)
)

package crmsync

import (
	"context"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/entities"
	"github.com/goliatone/go-crmsync/outbound"
	"github.com/goliatone/go-crmsync/ratelimit"
)

// Stores holds every piece of state the engine persists. Nil fields fall
// back to in-memory implementations.
type Stores struct {
	Events      core.EventQueue
	DeadLetters core.DeadLetterStore
	Cursor      core.CursorStore
	Seen        core.SeenSet
	Requests    core.RequestStore
	Clients     entities.ClientStore
	Quotes      entities.QuoteStore
	Tasks       entities.TaskStore
	RateLimits  ratelimit.StateStore
}

// StoreProvider is implemented by repository factories that can build a
// full set of durable stores.
type StoreProvider interface {
	EngineStores() Stores
}

// SeenPurger is implemented by seen sets that can drop expired entries.
type SeenPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// MemoryStores returns a complete in-memory store set.
func MemoryStores(cfg core.SyncConfig) Stores {
	return Stores{}.withDefaults(cfg)
}

func (s Stores) withDefaults(cfg core.SyncConfig) Stores {
	if s.Events == nil {
		s.Events = core.NewMemoryEventQueue()
	}
	if s.DeadLetters == nil {
		s.DeadLetters = core.NewMemoryDeadLetterStore()
	}
	if s.Cursor == nil {
		s.Cursor = core.NewMemoryCursorStore("")
	}
	if s.Seen == nil {
		s.Seen = core.NewMemorySeenSet(cfg.Gateway.EventTTL)
	}
	if s.Requests == nil {
		s.Requests = outbound.NewMemoryRequestStore()
	}
	if s.Clients == nil {
		s.Clients = entities.NewMemoryClientStore()
	}
	if s.Quotes == nil {
		s.Quotes = entities.NewMemoryQuoteStore()
	}
	if s.Tasks == nil {
		s.Tasks = entities.NewMemoryTaskStore()
	}
	if s.RateLimits == nil {
		s.RateLimits = ratelimit.NewMemoryStateStore()
	}
	return s
}

// merge fills the empty fields of s from other.
func (s Stores) merge(other Stores) Stores {
	if s.Events == nil {
		s.Events = other.Events
	}
	if s.DeadLetters == nil {
		s.DeadLetters = other.DeadLetters
	}
	if s.Cursor == nil {
		s.Cursor = other.Cursor
	}
	if s.Seen == nil {
		s.Seen = other.Seen
	}
	if s.Requests == nil {
		s.Requests = other.Requests
	}
	if s.Clients == nil {
		s.Clients = other.Clients
	}
	if s.Quotes == nil {
		s.Quotes = other.Quotes
	}
	if s.Tasks == nil {
		s.Tasks = other.Tasks
	}
	if s.RateLimits == nil {
		s.RateLimits = other.RateLimits
	}
	return s
}

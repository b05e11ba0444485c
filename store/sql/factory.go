package sqlstore

import (
	"fmt"

	crmsync "github.com/goliatone/go-crmsync"
	"github.com/goliatone/go-crmsync/entities"
	"github.com/goliatone/go-crmsync/ratelimit"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds every SQL store over one bun connection. With a
// cache service attached, client and rate-limit reads go through it.
type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	gatewayEvents *GatewayEventStore
	eventQueue    *EventQueueStore
	deadLetters   *DeadLetterStore
	cursors       *CursorStore
	seenEvents    *SeenEventStore
	requests      *RequestStore
	clients       *ClientStore
	cachedClients *CachedClientStore
	quotes        *QuoteStore
	tasks         *TaskStore
	rateLimits    *RateLimitStateStore
	cachedLimits  *CachedRateLimitStateStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// WithCache must be called before BuildStores.
func (f *RepositoryFactory) WithCache(cacheService repositorycache.CacheService) *RepositoryFactory {
	if f != nil {
		f.cache = cacheService
	}
	return f
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.gatewayEvents != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) GatewayEventStore() *GatewayEventStore { return f.gatewayEvents }
func (f *RepositoryFactory) EventQueueStore() *EventQueueStore     { return f.eventQueue }
func (f *RepositoryFactory) DeadLetterStore() *DeadLetterStore     { return f.deadLetters }
func (f *RepositoryFactory) CursorStore() *CursorStore             { return f.cursors }
func (f *RepositoryFactory) SeenEventStore() *SeenEventStore       { return f.seenEvents }
func (f *RepositoryFactory) RequestStore() *RequestStore           { return f.requests }
func (f *RepositoryFactory) QuoteStore() *QuoteStore               { return f.quotes }
func (f *RepositoryFactory) TaskStore() *TaskStore                 { return f.tasks }

// ClientStore returns the cached store when a cache service is attached.
func (f *RepositoryFactory) ClientStore() entities.ClientStore {
	if f.cachedClients != nil {
		return f.cachedClients
	}
	return f.clients
}

func (f *RepositoryFactory) RateLimitStateStore() ratelimit.StateStore {
	if f.cachedLimits != nil {
		return f.cachedLimits
	}
	return f.rateLimits
}

// EngineStores exposes the SQL stores to crmsync.New through
// crmsync.WithStoreProvider.
func (f *RepositoryFactory) EngineStores() crmsync.Stores {
	if f == nil || f.gatewayEvents == nil {
		return crmsync.Stores{}
	}
	return crmsync.Stores{
		Events:      f.eventQueue,
		DeadLetters: f.deadLetters,
		Cursor:      f.cursors,
		Seen:        f.seenEvents,
		Requests:    f.requests,
		Clients:     f.ClientStore(),
		Quotes:      f.quotes,
		Tasks:       f.tasks,
		RateLimits:  f.RateLimitStateStore(),
	}
}

func (f *RepositoryFactory) initStores() error {
	var err error
	if f.gatewayEvents, err = NewGatewayEventStore(f.db); err != nil {
		return err
	}
	if f.eventQueue, err = NewEventQueueStore(f.db); err != nil {
		return err
	}
	if f.deadLetters, err = NewDeadLetterStore(f.db); err != nil {
		return err
	}
	if f.cursors, err = NewCursorStore(f.db, DefaultCursorName); err != nil {
		return err
	}
	if f.seenEvents, err = NewSeenEventStore(f.db); err != nil {
		return err
	}
	if f.requests, err = NewRequestStore(f.db); err != nil {
		return err
	}
	if f.clients, err = NewClientStore(f.db); err != nil {
		return err
	}
	if f.quotes, err = NewQuoteStore(f.db); err != nil {
		return err
	}
	if f.tasks, err = NewTaskStore(f.db); err != nil {
		return err
	}
	if f.rateLimits, err = NewRateLimitStateStore(f.db); err != nil {
		return err
	}
	if f.cache == nil {
		return nil
	}
	if f.cachedClients, err = NewCachedClientStore(f.clients, f.cache); err != nil {
		return err
	}
	f.cachedLimits, err = NewCachedRateLimitStateStore(f.rateLimits, f.cache)
	return err
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

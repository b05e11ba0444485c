package crmsync

import (
	"context"
	"maps"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/entities"
	"github.com/goliatone/go-crmsync/outbound"
	"github.com/goliatone/go-crmsync/poller"
	"github.com/goliatone/go-crmsync/ratelimit"
	"github.com/goliatone/go-crmsync/sync"
	"github.com/goliatone/go-crmsync/transport"
	"github.com/goliatone/go-crmsync/webhooks"
	glog "github.com/goliatone/go-logger/glog"
)

// Engine wires the poller, the sync processor, the entity modules and the
// outbound client around one SyncConfig and owns their lifecycle.
type Engine struct {
	observer *core.Observer
	clock    core.Clock
	stores   Stores
	provider core.LoggerProvider
	logger   core.Logger
	metrics  core.MetricsRecorder

	api              *outbound.Client
	apiTransport     core.TransportAdapter
	gatewayTransport core.TransportAdapter
	policy           *ratelimit.AdaptivePolicy

	contacts      *entities.ContactSync
	opportunities *entities.OpportunitySync
	tasks         *entities.TaskSync
	notes         *entities.NoteHandler
	messages      *entities.MessageHandler

	fetcher   *gatewayFetcher
	poller    *poller.Poller
	processor *sync.Processor
	pushLoop  *core.Loop

	mu        gosync.RWMutex
	cfg       core.SyncConfig
	registrar *webhooks.Registrar
	runCtx    context.Context
	started   bool
}

type Status struct {
	Enabled         bool
	Started         bool
	Offline         bool
	AutoSync        bool
	Poller          poller.Status
	Processor       sync.Status
	PendingRequests int
	FailedRequests  int
}

// New resolves the config layers and builds an engine. The engine is idle
// until Start is called.
func New(cfg core.SyncConfig, opts ...Option) (*Engine, error) {
	builder := engineBuilder{}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}

	resolved, err := resolveConfig(cfg, builder.configProvider, builder.runtimeConfig)
	if err != nil {
		return nil, err
	}

	provider, logger := glog.Resolve("crmsync", builder.loggerProvider, builder.logger)
	e := &Engine{
		cfg:      resolved,
		clock:    core.SystemClock(),
		provider: provider,
		logger:   logger,
		metrics:  builder.metricsRecorder,
	}
	if builder.clock != nil {
		e.clock = *builder.clock
	}
	if e.metrics == nil {
		e.metrics = core.NopMetricsRecorder{}
	}
	e.observer = e.newObserver("crmsync.engine")

	stores := builder.stores
	if builder.storeProvider != nil {
		stores = stores.merge(builder.storeProvider.EngineStores())
	}
	e.stores = stores.withDefaults(resolved)

	httpClient := builder.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: resolved.API.Timeout}
	}
	e.apiTransport = builder.apiTransport
	if e.apiTransport == nil {
		e.apiTransport = newAPITransport(httpClient, resolved.API)
	}
	e.gatewayTransport = builder.gatewayTransport
	if e.gatewayTransport == nil {
		e.gatewayTransport = transport.NewRESTAdapter(httpClient)
	}

	e.policy = ratelimit.NewAdaptivePolicy(e.stores.RateLimits)
	e.policy.Now = e.clock.Time

	clientOpts := []outbound.Option{
		outbound.WithRateLimitPolicy(e.policy),
		outbound.WithClock(e.clock),
		outbound.WithObserver(e.newObserver("crmsync.outbound")),
	}
	if builder.probe != nil {
		clientOpts = append(clientOpts, outbound.WithProbe(builder.probe))
	}
	e.api, err = outbound.NewClient(resolved.API, e.apiTransport, e.stores.Requests, clientOpts...)
	if err != nil {
		return nil, err
	}

	e.contacts = entities.NewContactSync(resolved, e.stores.Clients, e.api, e.entityOpts("crmsync.contacts")...)
	e.opportunities = entities.NewOpportunitySync(resolved, e.stores.Quotes, e.stores.Clients, e.contacts, e.api, e.entityOpts("crmsync.opportunities")...)
	e.tasks = entities.NewTaskSync(resolved, e.stores.Tasks, e.stores.Clients, e.contacts, e.api, e.entityOpts("crmsync.tasks")...)
	e.notes = entities.NewNoteHandler(e.stores.Clients, e.stores.Quotes, e.entityOpts("crmsync.notes")...)
	e.messages = entities.NewMessageHandler(e.stores.Clients, e.stores.Quotes, e.stores.Tasks, e.entityOpts("crmsync.messages")...)

	processorOpts := []sync.Option{
		sync.WithClock(e.clock),
		sync.WithObserver(e.newObserver("crmsync.sync")),
		sync.WithHandler(core.FamilyContact, e.contacts),
		sync.WithHandler(core.FamilyOpportunity, e.opportunities),
		sync.WithHandler(core.FamilyTask, e.tasks),
		sync.WithHandler(core.FamilyNote, e.notes),
		sync.WithHandler(core.FamilyMessage, e.messages),
		sync.WithResolver(core.EntityClient, e.contacts),
		sync.WithResolver(core.EntityQuote, e.opportunities),
		sync.WithResolver(core.EntityTask, e.tasks),
	}
	for family, handler := range builder.hooks.Handlers() {
		processorOpts = append(processorOpts, sync.WithHandler(family, handler))
	}
	e.processor = sync.NewProcessor(resolved, e.stores.Events, e.stores.DeadLetters, e.stores.Seen, processorOpts...)

	e.fetcher = newGatewayFetcher(resolved, e.gatewayTransport)
	e.poller = poller.New(resolved, e.fetcher, e.stores.Events, e.stores.Cursor, e.stores.DeadLetters,
		poller.WithClock(e.clock),
		poller.WithObserver(e.newObserver("crmsync.poller")),
	)

	e.pushLoop = &core.Loop{
		Clock:    e.clock,
		Interval: func() time.Duration { return e.Config().Polling.Interval },
		Tick:     e.autoSyncTick,
	}
	e.registrar = webhooks.NewRegistrar(resolved, e.api, e.gatewayTransport)
	return e, nil
}

func resolveConfig(cfg core.SyncConfig, provider core.ConfigProvider, runtime map[string]any) (core.SyncConfig, error) {
	loaded := cfg
	if provider != nil {
		var err error
		loaded, err = provider.Load(context.Background(), cfg)
		if err != nil {
			return core.SyncConfig{}, err
		}
	}
	return core.GoOptionsResolver{}.Resolve(loaded, nil, runtime)
}

func (e *Engine) newObserver(name string) *core.Observer {
	observer := core.NewObserver(name, e.provider, e.logger)
	observer.Metrics = e.metrics
	observer.Now = e.clock.Time
	return observer
}

func (e *Engine) entityOpts(name string) []entities.Option {
	return []entities.Option{
		entities.WithClock(e.clock),
		entities.WithObserver(e.newObserver(name)),
	}
}

func (e *Engine) Config() core.SyncConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Start launches polling, processing and, with auto sync, the push loop.
// With sync disabled it records ctx and returns; a later UpdateConfig that
// enables sync starts the loops.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil {
		return core.ConfigError("engine", "engine is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	e.runCtx = ctx
	e.started = true
	cfg := e.cfg
	e.mu.Unlock()
	return e.startLoops(ctx, cfg)
}

func (e *Engine) startLoops(ctx context.Context, cfg core.SyncConfig) error {
	if !cfg.Features.Enabled {
		e.observer.Info(ctx, "sync disabled, engine idle", nil)
		return nil
	}
	if cfg.EventsURL() == "" {
		return core.ConfigError("polling.gateway_url", "gateway url is not configured")
	}
	if err := e.processor.Start(ctx); err != nil {
		return err
	}
	if err := e.poller.Start(ctx); err != nil {
		e.processor.Stop()
		return err
	}
	if cfg.Features.AutoSync && cfg.Features.BidirectionalSync {
		e.pushLoop.Start(ctx)
	}
	e.observer.Info(ctx, "sync engine started", map[string]any{
		"gateway":   cfg.EventsURL(),
		"auto_sync": cfg.Features.AutoSync,
	})
	return nil
}

func (e *Engine) stopLoops() {
	e.pushLoop.Stop()
	e.poller.Stop()
	e.processor.Stop()
}

// Stop halts every loop. Queued events and requests stay in their stores.
func (e *Engine) Stop() {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.started = false
	e.runCtx = nil
	e.mu.Unlock()
	e.stopLoops()
}

// UpdateConfig merges patch over the current config and reconfigures every
// component. A started engine stops or starts its loops to follow
// features.enabled.
func (e *Engine) UpdateConfig(ctx context.Context, patch map[string]any) (core.SyncConfig, error) {
	if e == nil {
		return core.SyncConfig{}, core.ConfigError("engine", "engine is not configured")
	}
	current := e.Config()
	next, err := core.MergeConfig(current, maps.Clone(patch))
	if err != nil {
		return current, err
	}

	e.mu.Lock()
	e.cfg = next
	e.registrar = webhooks.NewRegistrar(next, e.api, e.gatewayTransport)
	started, runCtx := e.started, e.runCtx
	e.mu.Unlock()

	if configurable, ok := e.apiTransport.(*apiTransport); ok {
		configurable.Configure(next.API)
	}
	e.api.Configure(next.API)
	e.fetcher.Configure(next)
	e.contacts.Configure(next)
	e.opportunities.Configure(next)
	e.tasks.Configure(next)
	e.processor.Configure(next)
	e.poller.Configure(next)

	e.observer.Info(ctx, "sync config updated", map[string]any{
		"enabled":   next.Features.Enabled,
		"auto_sync": next.Features.AutoSync,
		"policy":    string(next.ConflictPolicy()),
	})

	if !started {
		return next, nil
	}
	e.stopLoops()
	if err := e.startLoops(runCtx, next); err != nil {
		return next, err
	}
	return next, nil
}

func (e *Engine) Status(ctx context.Context) Status {
	cfg := e.Config()
	e.mu.RLock()
	started := e.started
	e.mu.RUnlock()
	status := Status{
		Enabled:   cfg.Features.Enabled,
		Started:   started,
		Offline:   e.api.Offline(),
		AutoSync:  e.pushLoop.Running(),
		Poller:    e.poller.Status(ctx),
		Processor: e.processor.Status(ctx),
	}
	if pending, err := e.api.QueueLength(ctx); err == nil {
		status.PendingRequests = pending
	}
	if failed, err := e.api.FailedRequests(ctx); err == nil {
		status.FailedRequests = len(failed)
	}
	return status
}

// SyncNow polls the gateway once.
func (e *Engine) SyncNow(ctx context.Context) (poller.PollResult, error) {
	return e.poller.SyncNow(ctx)
}

// ProcessNow runs one processor batch.
func (e *Engine) ProcessNow(ctx context.Context) (sync.BatchResult, error) {
	return e.processor.RunOnce(ctx)
}

// QueueEvent places an event on the local queue without going through the
// gateway.
func (e *Engine) QueueEvent(ctx context.Context, event core.CanonicalEvent) (bool, error) {
	return e.poller.QueueEvent(ctx, event)
}

// SyncPending pushes every unsynced client, quote and task. Clients go
// first so quotes and tasks can reference their contacts.
func (e *Engine) SyncPending(ctx context.Context) (summary entities.PushSummary, err error) {
	if !e.Config().Features.BidirectionalSync {
		summary.Disabled = true
		return summary, nil
	}
	startedAt := e.clock.Time()
	defer func() {
		e.observer.Observe(ctx, "sync_pending", startedAt, err, map[string]any{
			"clients": summary.Clients.Total,
			"quotes":  summary.Quotes.Total,
			"tasks":   summary.Tasks.Total,
			"failed":  summary.Failed(),
		})
	}()
	if summary.Clients, err = e.contacts.SyncPending(ctx); err != nil {
		return summary, err
	}
	if summary.Quotes, err = e.opportunities.SyncPending(ctx); err != nil {
		return summary, err
	}
	if summary.Tasks, err = e.tasks.SyncPending(ctx); err != nil {
		return summary, err
	}
	return summary, nil
}

func (e *Engine) autoSyncTick(ctx context.Context) {
	if e.api.Offline() {
		if _, err := e.api.SetOffline(ctx, false); err != nil {
			e.observer.Debug(ctx, "crm still unreachable", map[string]any{"error": err.Error()})
			return
		}
	}
	if _, err := e.SyncPending(ctx); err != nil && ctx.Err() == nil {
		e.observer.Warn(ctx, "auto sync pass failed", map[string]any{"error": err.Error()})
	}
	if _, err := e.PurgeSeen(ctx); err != nil && ctx.Err() == nil {
		e.observer.Warn(ctx, "purge seen events failed", map[string]any{"error": err.Error()})
	}
}

// Flush replays the outbound request queue.
func (e *Engine) Flush(ctx context.Context) (outbound.FlushResult, error) {
	return e.api.Flush(ctx)
}

func (e *Engine) SetOffline(ctx context.Context, offline bool) (outbound.FlushResult, error) {
	return e.api.SetOffline(ctx, offline)
}

func (e *Engine) FailedRequests(ctx context.Context) ([]core.OutboundRequest, error) {
	return e.api.FailedRequests(ctx)
}

func (e *Engine) ClearRequestQueue(ctx context.Context) error {
	return e.api.ClearQueue(ctx)
}

func (e *Engine) ResolveConflict(ctx context.Context, kind core.EntityKind, localID string, keep core.ConflictKeep) error {
	return e.processor.ResolveConflict(ctx, kind, localID, keep)
}

func (e *Engine) DeadLetters(ctx context.Context) ([]core.DeadLetter, error) {
	return e.processor.DeadLetters(ctx)
}

func (e *Engine) Requeue(ctx context.Context, id string) error {
	return e.processor.Requeue(ctx, strings.TrimSpace(id))
}

// PurgeSeen drops expired applied-event ids when the seen set supports it.
func (e *Engine) PurgeSeen(ctx context.Context) (int, error) {
	purger, ok := e.stores.Seen.(SeenPurger)
	if !ok {
		return 0, nil
	}
	removed, err := purger.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.observer.Debug(ctx, "expired seen events purged", map[string]any{"removed": removed})
	}
	return removed, nil
}

func (e *Engine) Contacts() *entities.ContactSync { return e.contacts }

func (e *Engine) Opportunities() *entities.OpportunitySync { return e.opportunities }

func (e *Engine) Tasks() *entities.TaskSync { return e.tasks }

func (e *Engine) API() *outbound.Client { return e.api }

func (e *Engine) Stores() Stores { return e.stores }

func (e *Engine) Registrar() *webhooks.Registrar {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registrar
}

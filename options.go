package crmsync

import (
	"context"
	"maps"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/transport"
)

type Option func(*engineBuilder)

type engineBuilder struct {
	logger           core.Logger
	loggerProvider   core.LoggerProvider
	metricsRecorder  core.MetricsRecorder
	configProvider   core.ConfigProvider
	runtimeConfig    map[string]any
	clock            *core.Clock
	httpClient       transport.HTTPDoer
	apiTransport     core.TransportAdapter
	gatewayTransport core.TransportAdapter
	stores           Stores
	storeProvider    StoreProvider
	probe            func(ctx context.Context) error
	hooks            *ExtensionHooks
}

func WithLogger(logger core.Logger) Option {
	return func(b *engineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *engineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *engineBuilder) {
		b.metricsRecorder = recorder
	}
}

// WithConfigProvider loads the config layer that sits between the defaults
// passed to New and the runtime overrides.
func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *engineBuilder) {
		b.configProvider = provider
	}
}

// WithRuntimeConfig adds overrides applied on top of every other layer.
func WithRuntimeConfig(values map[string]any) Option {
	return func(b *engineBuilder) {
		if len(values) == 0 {
			return
		}
		if b.runtimeConfig == nil {
			b.runtimeConfig = map[string]any{}
		}
		maps.Copy(b.runtimeConfig, values)
	}
}

func WithClock(clock core.Clock) Option {
	return func(b *engineBuilder) {
		b.clock = &clock
	}
}

// WithHTTPClient sets the HTTP client shared by the CRM API and gateway
// adapters.
func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(b *engineBuilder) {
		b.httpClient = client
	}
}

// WithAPITransport replaces the CRM API adapter. A custom adapter is not
// reconfigured by UpdateConfig.
func WithAPITransport(adapter core.TransportAdapter) Option {
	return func(b *engineBuilder) {
		b.apiTransport = adapter
	}
}

func WithGatewayTransport(adapter core.TransportAdapter) Option {
	return func(b *engineBuilder) {
		b.gatewayTransport = adapter
	}
}

// WithStores sets individual stores. They take precedence over a store
// provider.
func WithStores(stores Stores) Option {
	return func(b *engineBuilder) {
		b.stores = stores.merge(b.stores)
	}
}

func WithStoreProvider(provider StoreProvider) Option {
	return func(b *engineBuilder) {
		b.storeProvider = provider
	}
}

// WithProbe overrides the connectivity check run before the request queue
// is replayed.
func WithProbe(probe func(ctx context.Context) error) Option {
	return func(b *engineBuilder) {
		b.probe = probe
	}
}

// WithExtensionHooks applies registered handler packs over the built-in
// event handlers.
func WithExtensionHooks(hooks *ExtensionHooks) Option {
	return func(b *engineBuilder) {
		b.hooks = hooks
	}
}

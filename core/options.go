package core

import (
	"context"
	"fmt"
	"maps"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type ConfigProvider interface {
	Load(ctx context.Context, defaults SyncConfig) (SyncConfig, error)
}

type OptionsResolver interface {
	Resolve(defaults SyncConfig, loaded map[string]any, runtime map[string]any) (SyncConfig, error)
}

type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	return maps.Clone(l.Values), nil
}

type CfgxConfigProvider struct {
	Loader   RawConfigLoader
	Resolver OptionsResolver
	Runtime  map[string]any
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader, Resolver: GoOptionsResolver{}}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults SyncConfig) (SyncConfig, error) {
	if p == nil {
		return defaults, defaults.Validate()
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return SyncConfig{}, err
	}
	resolver := p.Resolver
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	return resolver.Resolve(defaults, raw, p.Runtime)
}

// GoOptionsResolver merges defaults < loaded < runtime layers.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults SyncConfig, loaded map[string]any, runtime map[string]any) (SyncConfig, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			ConfigToMap(defaults),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			cloneLayer(loaded),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			cloneLayer(runtime),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return SyncConfig{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return SyncConfig{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[SyncConfig](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[SyncConfig]((*SyncConfig).Validate),
	)
	if err != nil {
		return SyncConfig{}, err
	}
	return resolved, nil
}

func cloneLayer(layer map[string]any) map[string]any {
	if len(layer) == 0 {
		return map[string]any{}
	}
	return maps.Clone(layer)
}

// LoadConfig resolves a SyncConfig from a raw map and optional runtime overrides.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime map[string]any) (SyncConfig, error) {
	provider := NewCfgxConfigProvider(loader)
	provider.Runtime = runtime
	return provider.Load(ctx, DefaultConfig())
}

// MergeConfig applies a runtime patch on top of an existing config.
func MergeConfig(current SyncConfig, patch map[string]any) (SyncConfig, error) {
	return GoOptionsResolver{}.Resolve(current, nil, patch)
}

func ConfigToMap(cfg SyncConfig) map[string]any {
	return map[string]any{
		"service_name":      cfg.ServiceName,
		"webhook_url":       cfg.WebhookURL,
		"webhook_secret":    cfg.WebhookSecret,
		"subscribed_events": append([]string(nil), cfg.SubscribedEvents...),
		"features": map[string]any{
			"enabled":              cfg.Features.Enabled,
			"auto_sync":            cfg.Features.AutoSync,
			"bidirectional_sync":   cfg.Features.BidirectionalSync,
			"conflict_resolution":  string(cfg.Features.ConflictResolution),
			"deduplicate":          cfg.Features.Deduplicate,
			"clock_skew_tolerance": cfg.Features.ClockSkewTolerance,
		},
		"processing": map[string]any{
			"batch_size":      cfg.Processing.BatchSize,
			"batch_delay":     cfg.Processing.BatchDelay,
			"retry_attempts":  cfg.Processing.RetryAttempts,
			"retry_delay":     cfg.Processing.RetryDelay,
			"max_retry_delay": cfg.Processing.MaxRetryDelay,
			"max_queue_size":  cfg.Processing.MaxQueueSize,
		},
		"polling": map[string]any{
			"gateway_url": cfg.Polling.GatewayURL,
			"interval":    cfg.Polling.Interval,
			"page_limit":  cfg.Polling.PageLimit,
		},
		"gateway": map[string]any{
			"signature_header": cfg.Gateway.SignatureHeader,
			"signature_prefix": cfg.Gateway.SignaturePrefix,
			"allowed_origins":  append([]string(nil), cfg.Gateway.AllowedOrigins...),
			"event_ttl":        cfg.Gateway.EventTTL,
			"settle_window":    cfg.Gateway.SettleWindow,
			"version":          cfg.Gateway.Version,
		},
		"api": map[string]any{
			"base_url":         cfg.API.BaseURL,
			"api_key":          cfg.API.APIKey,
			"location_id":      cfg.API.LocationID,
			"version":          cfg.API.Version,
			"timeout":          cfg.API.Timeout,
			"retry_attempts":   cfg.API.RetryAttempts,
			"retry_delay":      cfg.API.RetryDelay,
			"max_retry_delay":  cfg.API.MaxRetryDelay,
			"inter_item_delay": cfg.API.InterItemDelay,
		},
		"pipeline": map[string]any{
			"id": cfg.Pipeline.ID,
			"stages": map[string]any{
				"quote":     cfg.Pipeline.Stages.Quote,
				"won":       cfg.Pipeline.Stages.Won,
				"lost":      cfg.Pipeline.Stages.Lost,
				"follow_up": cfg.Pipeline.Stages.FollowUp,
			},
		},
	}
}

package core

import (
	"slices"
	"strings"
	"time"
)

type ConflictPolicy string

const (
	ConflictRemoteWins ConflictPolicy = "remote-wins"
	ConflictLocalWins  ConflictPolicy = "local-wins"
	ConflictNewestWins ConflictPolicy = "newest-wins"
	ConflictManual     ConflictPolicy = "manual"
)

func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictRemoteWins, ConflictLocalWins, ConflictNewestWins, ConflictManual:
		return true
	default:
		return false
	}
}

// SupportedEvents lists the provider event types accepted by the gateway.
var SupportedEvents = []string{
	"ContactCreate",
	"ContactUpdate",
	"OpportunityUpdate",
	"OpportunityStatusUpdate",
	"TaskUpdate",
	"TaskComplete",
	"NoteCreate",
	"InboundMessage",
}

func IsSupportedEvent(eventType string) bool {
	return slices.Contains(SupportedEvents, strings.TrimSpace(eventType))
}

type FeaturesConfig struct {
	Enabled            bool           `koanf:"enabled" mapstructure:"enabled"`
	AutoSync           bool           `koanf:"auto_sync" mapstructure:"auto_sync"`
	BidirectionalSync  bool           `koanf:"bidirectional_sync" mapstructure:"bidirectional_sync"`
	ConflictResolution ConflictPolicy `koanf:"conflict_resolution" mapstructure:"conflict_resolution"`
	Deduplicate        bool           `koanf:"deduplicate" mapstructure:"deduplicate"`
	ClockSkewTolerance time.Duration  `koanf:"clock_skew_tolerance" mapstructure:"clock_skew_tolerance"`
}

type ProcessingConfig struct {
	BatchSize     int           `koanf:"batch_size" mapstructure:"batch_size"`
	BatchDelay    time.Duration `koanf:"batch_delay" mapstructure:"batch_delay"`
	RetryAttempts int           `koanf:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay" mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `koanf:"max_retry_delay" mapstructure:"max_retry_delay"`
	MaxQueueSize  int           `koanf:"max_queue_size" mapstructure:"max_queue_size"`
}

type PollingConfig struct {
	// GatewayURL is the gateway base. When empty it is derived from WebhookURL.
	GatewayURL string        `koanf:"gateway_url" mapstructure:"gateway_url"`
	Interval   time.Duration `koanf:"interval" mapstructure:"interval"`
	PageLimit  int           `koanf:"page_limit" mapstructure:"page_limit"`
}

type GatewayConfig struct {
	SignatureHeader string        `koanf:"signature_header" mapstructure:"signature_header"`
	SignaturePrefix string        `koanf:"signature_prefix" mapstructure:"signature_prefix"`
	AllowedOrigins  []string      `koanf:"allowed_origins" mapstructure:"allowed_origins"`
	EventTTL        time.Duration `koanf:"event_ttl" mapstructure:"event_ttl"`
	// SettleWindow holds back events younger than this from polling clients.
	SettleWindow    time.Duration `koanf:"settle_window" mapstructure:"settle_window"`
	Version         string        `koanf:"version" mapstructure:"version"`
}

type APIConfig struct {
	BaseURL        string        `koanf:"base_url" mapstructure:"base_url"`
	APIKey         string        `koanf:"api_key" mapstructure:"api_key"`
	LocationID     string        `koanf:"location_id" mapstructure:"location_id"`
	Version        string        `koanf:"version" mapstructure:"version"`
	Timeout        time.Duration `koanf:"timeout" mapstructure:"timeout"`
	RetryAttempts  int           `koanf:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `koanf:"retry_delay" mapstructure:"retry_delay"`
	MaxRetryDelay  time.Duration `koanf:"max_retry_delay" mapstructure:"max_retry_delay"`
	InterItemDelay time.Duration `koanf:"inter_item_delay" mapstructure:"inter_item_delay"`
}

type PipelineStages struct {
	Quote    string `koanf:"quote" mapstructure:"quote"`
	Won      string `koanf:"won" mapstructure:"won"`
	Lost     string `koanf:"lost" mapstructure:"lost"`
	FollowUp string `koanf:"follow_up" mapstructure:"follow_up"`
}

type PipelineConfig struct {
	ID     string         `koanf:"id" mapstructure:"id"`
	Stages PipelineStages `koanf:"stages" mapstructure:"stages"`
}

type SyncConfig struct {
	ServiceName      string           `koanf:"service_name" mapstructure:"service_name"`
	WebhookURL       string           `koanf:"webhook_url" mapstructure:"webhook_url"`
	WebhookSecret    string           `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	SubscribedEvents []string         `koanf:"subscribed_events" mapstructure:"subscribed_events"`
	Features         FeaturesConfig   `koanf:"features" mapstructure:"features"`
	Processing       ProcessingConfig `koanf:"processing" mapstructure:"processing"`
	Polling          PollingConfig    `koanf:"polling" mapstructure:"polling"`
	Gateway          GatewayConfig    `koanf:"gateway" mapstructure:"gateway"`
	API              APIConfig        `koanf:"api" mapstructure:"api"`
	Pipeline         PipelineConfig   `koanf:"pipeline" mapstructure:"pipeline"`
}

func DefaultConfig() SyncConfig {
	return SyncConfig{
		ServiceName:      "crmsync",
		SubscribedEvents: append([]string(nil), SupportedEvents...),
		Features: FeaturesConfig{
			Enabled:            false,
			AutoSync:           true,
			BidirectionalSync:  true,
			ConflictResolution: ConflictNewestWins,
			Deduplicate:        true,
			ClockSkewTolerance: 2 * time.Second,
		},
		Processing: ProcessingConfig{
			BatchSize:     10,
			BatchDelay:    5 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    time.Minute,
			MaxRetryDelay: 30 * time.Minute,
			MaxQueueSize:  1000,
		},
		Polling: PollingConfig{
			Interval:  30 * time.Second,
			PageLimit: 500,
		},
		Gateway: GatewayConfig{
			SignatureHeader: "X-GHL-Signature",
			EventTTL:        24 * time.Hour,
			SettleWindow:    2 * time.Second,
			Version:         "1.0.0",
		},
		API: APIConfig{
			BaseURL:        "https://services.leadconnectorhq.com",
			Version:        "2021-07-28",
			Timeout:        30 * time.Second,
			RetryAttempts:  3,
			RetryDelay:     time.Second,
			MaxRetryDelay:  time.Minute,
			InterItemDelay: 500 * time.Millisecond,
		},
		Pipeline: PipelineConfig{
			Stages: PipelineStages{
				Quote:    "quote",
				Won:      "won",
				Lost:     "lost",
				FollowUp: "followUp",
			},
		},
	}
}

func (c SyncConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return ConfigError("service_name", "service_name is required")
	}
	if c.Features.ConflictResolution != "" && !c.Features.ConflictResolution.Valid() {
		return ConfigError("features.conflict_resolution", "unknown conflict policy "+string(c.Features.ConflictResolution))
	}
	if c.Features.ClockSkewTolerance < 0 {
		return ConfigError("features.clock_skew_tolerance", "clock skew tolerance must not be negative")
	}
	if c.Gateway.SettleWindow < 0 {
		return ConfigError("gateway.settle_window", "settle window must not be negative")
	}
	if c.Processing.BatchSize <= 0 {
		return ConfigError("processing.batch_size", "batch size must be positive")
	}
	if c.Processing.RetryAttempts < 0 {
		return ConfigError("processing.retry_attempts", "retry attempts must not be negative")
	}
	if c.API.RetryAttempts < 0 {
		return ConfigError("api.retry_attempts", "retry attempts must not be negative")
	}
	if c.Processing.MaxQueueSize < 0 {
		return ConfigError("processing.max_queue_size", "max queue size must not be negative")
	}
	for _, eventType := range c.SubscribedEvents {
		if !IsSupportedEvent(eventType) {
			return ConfigError("subscribed_events", "unsupported event type "+strings.TrimSpace(eventType))
		}
	}
	return nil
}

// ValidateGateway checks the settings the webhook gateway cannot run without.
func (c SyncConfig) ValidateGateway() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.WebhookSecret) == "" {
		return ConfigError("webhook_secret", "webhook secret is required; sync is disabled until it is configured")
	}
	return nil
}

func (c SyncConfig) ConflictPolicy() ConflictPolicy {
	if c.Features.ConflictResolution.Valid() {
		return c.Features.ConflictResolution
	}
	return ConflictNewestWins
}

// Subscribed reports whether eventType is enabled for ingestion.
func (c SyncConfig) Subscribed(eventType string) bool {
	if len(c.SubscribedEvents) == 0 {
		return IsSupportedEvent(eventType)
	}
	return slices.Contains(c.SubscribedEvents, strings.TrimSpace(eventType))
}

// EventsURL returns the gateway polling endpoint.
func (c SyncConfig) EventsURL() string {
	base := strings.TrimSpace(c.Polling.GatewayURL)
	if base == "" {
		base = strings.TrimSuffix(strings.TrimSpace(c.WebhookURL), "/")
		base = strings.TrimSuffix(base, "/webhook")
	}
	if base == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/events"
}

package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/outbound"
)

const hooksEndpoint = "/webhooks/"

type Requester interface {
	Do(ctx context.Context, req core.OutboundRequest) (outbound.Response, error)
}

// Hook is a webhook subscription as the CRM reports it.
type Hook struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	Events     []string `json:"events"`
	Active     bool     `json:"active"`
	LocationID string   `json:"locationId,omitempty"`
}

type Verification struct {
	Hook          Hook
	Valid         bool
	MissingEvents []string
}

// Registrar manages the CRM side subscription that feeds the gateway.
type Registrar struct {
	api       Requester
	transport core.TransportAdapter
	cfg       core.SyncConfig
	observer  *core.Observer
}

// NewRegistrar builds a registrar. transport is only needed by Test, which
// calls the gateway directly rather than the CRM.
func NewRegistrar(cfg core.SyncConfig, api Requester, transport core.TransportAdapter) *Registrar {
	return &Registrar{
		api:       api,
		transport: transport,
		cfg:       cfg,
		observer:  core.NewObserver("crmsync.webhooks.registrar", nil, nil),
	}
}

func (r *Registrar) Register(ctx context.Context) (Hook, error) {
	url := strings.TrimSpace(r.cfg.WebhookURL)
	if url == "" {
		return Hook{}, core.ConfigError("webhook_url", "webhook url is not configured")
	}
	body, err := json.Marshal(map[string]any{
		"url":        url,
		"events":     r.events(),
		"locationId": strings.TrimSpace(r.cfg.API.LocationID),
	})
	if err != nil {
		return Hook{}, core.ApplyError(err, "encode webhook registration", nil)
	}
	res, err := r.call(ctx, http.MethodPost, hooksEndpoint, body)
	if err != nil {
		return Hook{}, err
	}
	hook, err := decodeHook(res)
	if err == nil {
		r.observer.Info(ctx, "webhook registered", map[string]any{"hook_id": hook.ID, "url": hook.URL})
	}
	return hook, err
}

func (r *Registrar) List(ctx context.Context) ([]Hook, error) {
	res, err := r.call(ctx, http.MethodGet, hooksEndpoint, nil)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Webhooks []Hook `json:"webhooks"`
	}
	if len(res.Body) == 0 {
		return nil, nil
	}
	if err := res.Decode(&envelope); err != nil {
		return nil, err
	}
	return envelope.Webhooks, nil
}

func (r *Registrar) Get(ctx context.Context, hookID string) (Hook, error) {
	hookID = strings.TrimSpace(hookID)
	if hookID == "" {
		return Hook{}, core.BadInputError("hook id is required", nil)
	}
	res, err := r.call(ctx, http.MethodGet, hooksEndpoint+hookID, nil)
	if err != nil {
		return Hook{}, err
	}
	return decodeHook(res)
}

// Update rewrites the url and events of hookID. An empty id registers a new
// hook instead.
func (r *Registrar) Update(ctx context.Context, hookID string) (Hook, error) {
	hookID = strings.TrimSpace(hookID)
	if hookID == "" {
		return r.Register(ctx)
	}
	body, err := json.Marshal(map[string]any{
		"url":    strings.TrimSpace(r.cfg.WebhookURL),
		"events": r.events(),
	})
	if err != nil {
		return Hook{}, core.ApplyError(err, "encode webhook update", nil)
	}
	res, err := r.call(ctx, http.MethodPut, hooksEndpoint+hookID, body)
	if err != nil {
		return Hook{}, err
	}
	return decodeHook(res)
}

func (r *Registrar) Delete(ctx context.Context, hookID string) error {
	hookID = strings.TrimSpace(hookID)
	if hookID == "" {
		return core.BadInputError("hook id is required", nil)
	}
	_, err := r.call(ctx, http.MethodDelete, hooksEndpoint+hookID, nil)
	if err == nil {
		r.observer.Info(ctx, "webhook deleted", map[string]any{"hook_id": hookID})
	}
	return err
}

// Verify finds the hook pointing at the configured url and checks that it
// covers every subscribed event.
func (r *Registrar) Verify(ctx context.Context) (Verification, error) {
	url := strings.TrimSpace(r.cfg.WebhookURL)
	if url == "" {
		return Verification{}, core.ConfigError("webhook_url", "webhook url is not configured")
	}
	hooks, err := r.List(ctx)
	if err != nil {
		return Verification{}, err
	}
	for _, hook := range hooks {
		if strings.TrimSpace(hook.URL) != url {
			continue
		}
		var missing []string
		for _, event := range r.events() {
			if !slices.Contains(hook.Events, event) {
				missing = append(missing, event)
			}
		}
		return Verification{Hook: hook, Valid: hook.Active && len(missing) == 0, MissingEvents: missing}, nil
	}
	return Verification{}, core.NotFoundError("no webhook registered for "+url, map[string]any{"url": url})
}

// Test posts a signed synthetic delivery to the gateway. The gateway
// acknowledges it as an unsupported type without storing it.
func (r *Registrar) Test(ctx context.Context) error {
	url := strings.TrimSpace(r.cfg.WebhookURL)
	if url == "" {
		return core.ConfigError("webhook_url", "webhook url is not configured")
	}
	if r.transport == nil {
		return core.ConfigError("webhooks.transport", "registrar requires a transport to test the gateway")
	}
	id, err := newTestID()
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{
		"type": "test",
		"id":   id,
		"data": map[string]any{"message": "connectivity check"},
	})
	if err != nil {
		return core.ApplyError(err, "encode test delivery", nil)
	}
	verifier := NewHMACVerifier(r.cfg)
	res, err := r.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    url,
		Headers: map[string]string{
			"Content-Type":         "application/json",
			verifier.headerName(): verifier.Prefix + Sign(verifier.Secret, body),
		},
		Body:    body,
		Timeout: r.cfg.API.Timeout,
	})
	if err != nil {
		return core.NetworkError(err, "send test delivery", map[string]any{"url": url})
	}
	if res.StatusCode != http.StatusOK {
		return core.RemoteRejectedError(res.StatusCode, "gateway rejected test delivery", map[string]any{"url": url})
	}
	return nil
}

func (r *Registrar) call(ctx context.Context, method, endpoint string, body []byte) (outbound.Response, error) {
	if r == nil || r.api == nil {
		return outbound.Response{}, core.ConfigError("webhooks.api", "registrar requires a crm client")
	}
	res, err := r.api.Do(ctx, core.OutboundRequest{
		Method:    method,
		Endpoint:  endpoint,
		Body:      body,
		Operation: core.OperationOther,
	})
	if err != nil {
		return res, err
	}
	if res.Queued {
		return res, core.NetworkError(nil, "crm is offline", map[string]any{"endpoint": endpoint})
	}
	return res, nil
}

func (r *Registrar) events() []string {
	if len(r.cfg.SubscribedEvents) == 0 {
		return append([]string(nil), core.SupportedEvents...)
	}
	out := make([]string, 0, len(r.cfg.SubscribedEvents))
	for _, event := range r.cfg.SubscribedEvents {
		if event = strings.TrimSpace(event); event != "" {
			out = append(out, event)
		}
	}
	return out
}

func decodeHook(res outbound.Response) (Hook, error) {
	var envelope struct {
		Webhook *Hook `json:"webhook"`
	}
	if err := res.Decode(&envelope); err != nil {
		return Hook{}, err
	}
	if envelope.Webhook != nil {
		return *envelope.Webhook, nil
	}
	var hook Hook
	if err := res.Decode(&hook); err != nil {
		return Hook{}, err
	}
	if strings.TrimSpace(hook.ID) == "" {
		return Hook{}, core.TransformError("webhook response has no id", map[string]any{"request_id": res.RequestID})
	}
	return hook, nil
}

func newTestID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", core.ApplyError(err, "generate test delivery id", nil)
	}
	return "test_" + id.String(), nil
}

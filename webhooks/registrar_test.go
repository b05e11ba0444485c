package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/outbound"
)

type recordingRequester struct {
	calls   []core.OutboundRequest
	replies map[string]string
	queued  bool
}

func (r *recordingRequester) Do(_ context.Context, req core.OutboundRequest) (outbound.Response, error) {
	r.calls = append(r.calls, req)
	if r.queued {
		return outbound.Response{Queued: true}, nil
	}
	body, ok := r.replies[req.Method+" "+req.Endpoint]
	if !ok {
		return outbound.Response{}, core.RemoteRejectedError(http.StatusNotFound, "not found", nil)
	}
	return outbound.Response{StatusCode: http.StatusOK, Body: json.RawMessage(body)}, nil
}

type gatewayTransport struct {
	gateway *Gateway
}

func (gatewayTransport) Kind() string { return "gateway" }

func (g gatewayTransport) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	rec := httptest.NewRecorder()
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, "/webhook", bytes.NewReader(req.Body))
	if err != nil {
		return core.TransportResponse{}, err
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	g.gateway.ServeHTTP(rec, httpReq)
	return core.TransportResponse{StatusCode: rec.Code, Body: rec.Body.Bytes()}, nil
}

func registrarConfig() core.SyncConfig {
	cfg := core.DefaultConfig()
	cfg.WebhookURL = "https://gw.example.com/webhook"
	cfg.WebhookSecret = testSecret
	cfg.SubscribedEvents = []string{"ContactUpdate", "TaskComplete"}
	cfg.API.LocationID = "loc_1"
	return cfg
}

func TestRegistrar_RegisterSendsSubscription(t *testing.T) {
	api := &recordingRequester{replies: map[string]string{
		"POST /webhooks/": `{"webhook":{"id":"wh_1","url":"https://gw.example.com/webhook","events":["ContactUpdate","TaskComplete"],"active":true}}`,
	}}
	registrar := NewRegistrar(registrarConfig(), api, nil)

	hook, err := registrar.Register(context.Background())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if hook.ID != "wh_1" || !hook.Active {
		t.Fatalf("unexpected hook %+v", hook)
	}
	var body struct {
		URL        string   `json:"url"`
		Events     []string `json:"events"`
		LocationID string   `json:"locationId"`
	}
	if err := json.Unmarshal(api.calls[0].Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.URL != "https://gw.example.com/webhook" || len(body.Events) != 2 || body.LocationID != "loc_1" {
		t.Fatalf("unexpected registration body %+v", body)
	}
}

func TestRegistrar_UpdateGetDelete(t *testing.T) {
	api := &recordingRequester{replies: map[string]string{
		"PUT /webhooks/wh_1":    `{"webhook":{"id":"wh_1"}}`,
		"GET /webhooks/wh_1":    `{"webhook":{"id":"wh_1","url":"u"}}`,
		"DELETE /webhooks/wh_1": `{"succeded":true}`,
	}}
	registrar := NewRegistrar(registrarConfig(), api, nil)
	ctx := context.Background()

	if hook, err := registrar.Update(ctx, "wh_1"); err != nil || hook.ID != "wh_1" {
		t.Fatalf("update: %+v %v", hook, err)
	}
	if hook, err := registrar.Get(ctx, "wh_1"); err != nil || hook.URL != "u" {
		t.Fatalf("get: %+v %v", hook, err)
	}
	if err := registrar.Delete(ctx, "wh_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := registrar.Delete(ctx, " "); !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for empty id, got %v", err)
	}
}

func TestRegistrar_VerifyReportsMissingEvents(t *testing.T) {
	api := &recordingRequester{replies: map[string]string{
		"GET /webhooks/": `{"webhooks":[
			{"id":"wh_0","url":"https://other.example.com","events":["ContactUpdate","TaskComplete"],"active":true},
			{"id":"wh_1","url":"https://gw.example.com/webhook","events":["ContactUpdate"],"active":true}
		]}`,
	}}
	registrar := NewRegistrar(registrarConfig(), api, nil)

	verification, err := registrar.Verify(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.Hook.ID != "wh_1" || verification.Valid {
		t.Fatalf("expected matching but incomplete hook, got %+v", verification)
	}
	if len(verification.MissingEvents) != 1 || verification.MissingEvents[0] != "TaskComplete" {
		t.Fatalf("unexpected missing events %v", verification.MissingEvents)
	}

	api.replies["GET /webhooks/"] = `{"webhooks":[]}`
	if _, err := registrar.Verify(context.Background()); !core.IsNotFound(err) {
		t.Fatalf("expected not found without a matching hook, got %v", err)
	}
}

func TestRegistrar_OfflineIsNetworkError(t *testing.T) {
	registrar := NewRegistrar(registrarConfig(), &recordingRequester{queued: true}, nil)
	if _, err := registrar.List(context.Background()); !core.HasTextCode(err, core.ErrorNetworkFailed) {
		t.Fatalf("expected network error while offline, got %v", err)
	}
}

func TestRegistrar_TestDeliversSignedProbe(t *testing.T) {
	cfg := registrarConfig()
	gateway := newTestGateway(t)
	registrar := NewRegistrar(cfg, &recordingRequester{}, gatewayTransport{gateway: gateway})

	if err := registrar.Test(context.Background()); err != nil {
		t.Fatalf("expected gateway to accept signed probe, got %v", err)
	}

	cfg.WebhookSecret = "stale"
	registrar = NewRegistrar(cfg, &recordingRequester{}, gatewayTransport{gateway: gateway})
	if err := registrar.Test(context.Background()); !core.HasTextCode(err, core.ErrorRemoteRejected) {
		t.Fatalf("expected rejection with wrong secret, got %v", err)
	}
}

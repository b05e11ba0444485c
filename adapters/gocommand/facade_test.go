package gocommand

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	crmsync "github.com/goliatone/go-crmsync"
	synccommand "github.com/goliatone/go-crmsync/command"
	"github.com/goliatone/go-crmsync/core"
	syncquery "github.com/goliatone/go-crmsync/query"
)

type offlineCRM struct{}

func (offlineCRM) Kind() string { return "offline" }

func (offlineCRM) Do(context.Context, core.TransportRequest) (core.TransportResponse, error) {
	return core.TransportResponse{}, errors.New("crm is not reachable in this test")
}

func TestRegisterFacadeRoutesMessagesToEngine(t *testing.T) {
	ctx := context.Background()
	cfg := core.DefaultConfig()
	cfg.WebhookSecret = "whsec_test"
	cfg.API.APIKey = "key_1"
	engine, err := crmsync.New(cfg, crmsync.WithAPITransport(offlineCRM{}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Stop)
	facade, err := crmsync.NewFacade(engine)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	adapter := NewRegistryAdapter(command.NewRegistry())
	subs, err := RegisterFacade(adapter, facade)
	if err != nil {
		t.Fatalf("register facade: %v", err)
	}
	t.Cleanup(subs.Unsubscribe)
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if err := Dispatch(ctx, synccommand.QueueEventMessage{Event: core.CanonicalEvent{
		ID:            "evt_bad",
		EventType:     core.EventContactUpdated,
		ReceivedAt:    time.Now().UTC(),
		Unprocessable: true,
		Error:         "contact payload is not an object",
	}}); err != nil {
		t.Fatalf("dispatch queue event: %v", err)
	}
	if err := Dispatch(ctx, synccommand.ProcessBatchMessage{}); err != nil {
		t.Fatalf("dispatch process batch: %v", err)
	}

	letters, err := Query[syncquery.DeadLettersMessage, []core.DeadLetter](ctx, syncquery.DeadLettersMessage{})
	if err != nil {
		t.Fatalf("query dead letters: %v", err)
	}
	if len(letters) != 1 || letters[0].ID != "evt_bad" {
		t.Fatalf("expected dispatched event dead lettered, got %+v", letters)
	}

	masked, err := Query[syncquery.ConfigMessage, core.SyncConfig](ctx, syncquery.ConfigMessage{})
	if err != nil {
		t.Fatalf("query config: %v", err)
	}
	if masked.API.APIKey == "key_1" {
		t.Fatalf("expected api key masked")
	}
}

func TestRegisterFacadeRequiresFacade(t *testing.T) {
	if _, err := RegisterFacade(NewRegistryAdapter(nil), nil); err == nil {
		t.Fatalf("expected nil facade error")
	}
}

package crmsync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

func TestExtensionHooks_RegisterHandlerPacks(t *testing.T) {
	hooks := NewExtensionHooks()
	noop := core.EventHandlerFunc(func(context.Context, core.CanonicalEvent) error { return nil })

	pack := HandlerPack{Name: "journal", Handlers: map[core.EventFamily]core.EventHandler{core.FamilyNote: noop}}
	if err := hooks.RegisterHandlerPack(pack); err != nil {
		t.Fatalf("register handler pack: %v", err)
	}
	if err := hooks.RegisterHandlerPack(pack); err == nil {
		t.Fatalf("expected duplicate pack registration error")
	}
	if err := hooks.RegisterHandlerPack(HandlerPack{
		Name:     "other-journal",
		Handlers: map[core.EventFamily]core.EventHandler{core.FamilyNote: noop},
	}); err == nil {
		t.Fatalf("expected family collision error")
	}
	if err := hooks.RegisterHandlerPack(HandlerPack{
		Name:     "invoices",
		Handlers: map[core.EventFamily]core.EventHandler{"invoice": noop},
	}); err == nil {
		t.Fatalf("expected unknown family error")
	}
	if err := hooks.RegisterHandlerPack(HandlerPack{
		Name:     "inbox",
		Handlers: map[core.EventFamily]core.EventHandler{core.FamilyMessage: nil},
	}); err == nil {
		t.Fatalf("expected nil handler error")
	}

	if fmt.Sprint(hooks.PackNames()) != "[journal]" {
		t.Fatalf("unexpected pack names %v", hooks.PackNames())
	}
	if _, ok := hooks.Handlers()[core.FamilyNote]; !ok {
		t.Fatalf("expected note handler in flattened map")
	}
}

func TestExtensionHooks_BuildCommandQueryBundles(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterCommandQueryBundle("b_bundle", func(f *Facade) (any, error) {
		return f.Queries().Status, nil
	}); err != nil {
		t.Fatalf("register bundle b: %v", err)
	}
	if err := hooks.RegisterCommandQueryBundle("a_bundle", func(*Facade) (any, error) {
		return "ok", nil
	}); err != nil {
		t.Fatalf("register bundle a: %v", err)
	}
	if err := hooks.RegisterCommandQueryBundle("a_bundle", func(*Facade) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate bundle registration error")
	}
	if fmt.Sprint(hooks.BundleNames()) != "[a_bundle b_bundle]" {
		t.Fatalf("unexpected bundle names %v", hooks.BundleNames())
	}

	engine, _ := newTestEngine(t, testConfig())
	facade, err := NewFacade(engine)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	bundles, err := hooks.BuildCommandQueryBundles(facade)
	if err != nil {
		t.Fatalf("build bundles: %v", err)
	}
	if bundles["a_bundle"] != "ok" || bundles["b_bundle"] == nil {
		t.Fatalf("unexpected bundles %#v", bundles)
	}
	if _, err := hooks.BuildCommandQueryBundles(nil); err == nil {
		t.Fatalf("expected nil facade error")
	}
}

func TestEngineRoutesFamilyToHandlerPack(t *testing.T) {
	ctx := context.Background()
	var pulled []string
	hooks := NewExtensionHooks()
	if err := hooks.RegisterHandlerPack(HandlerPack{
		Name: "journal",
		Handlers: map[core.EventFamily]core.EventHandler{
			core.FamilyNote: core.EventHandlerFunc(func(_ context.Context, event core.CanonicalEvent) error {
				pulled = append(pulled, event.ID)
				return nil
			}),
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	engine, _ := newTestEngine(t, testConfig(), WithExtensionHooks(hooks))

	if _, err := engine.QueueEvent(ctx, core.CanonicalEvent{
		ID:         "evt_note",
		EventType:  core.EventNoteCreated,
		SourceID:   "note_1",
		Payload:    []byte(`{"id":"note_1","body":"call back"}`),
		ReceivedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	result, err := engine.ProcessNow(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Processed != 1 || fmt.Sprint(pulled) != "[evt_note]" {
		t.Fatalf("expected note routed to pack, got %+v pulled=%v", result, pulled)
	}
}

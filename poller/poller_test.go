package poller

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/transport"
	"github.com/goliatone/go-crmsync/webhooks"
)

type pageFetcher struct {
	pages  []webhooks.EventsPage
	calls  []int64
	err    error
	notify chan struct{}
}

func (f *pageFetcher) Fetch(_ context.Context, since int64, _ int) (webhooks.EventsPage, error) {
	f.calls = append(f.calls, since)
	if f.notify != nil {
		select {
		case f.notify <- struct{}{}:
		default:
		}
	}
	if f.err != nil {
		return webhooks.EventsPage{}, f.err
	}
	if len(f.pages) == 0 {
		return webhooks.EventsPage{LastEventID: since}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

type failingQueue struct {
	*core.MemoryEventQueue
}

func (failingQueue) Append(context.Context, ...core.QueuedEvent) error {
	return errors.New("disk full")
}

func testConfig() core.SyncConfig {
	cfg := core.DefaultConfig()
	cfg.Features.Enabled = true
	cfg.Polling.PageLimit = 2
	return cfg
}

func evt(id string, seq int64) core.CanonicalEvent {
	return core.CanonicalEvent{ID: id, Sequence: seq, EventType: core.EventContactUpdated, SourceID: "ct_" + id}
}

func TestSyncNow_AppendsPagesAndAdvancesCursor(t *testing.T) {
	fetcher := &pageFetcher{pages: []webhooks.EventsPage{
		{Events: []core.CanonicalEvent{evt("a", 1), evt("b", 2)}, LastEventID: 2},
		{Events: []core.CanonicalEvent{evt("c", 3)}, LastEventID: 3},
	}}
	queue := core.NewMemoryEventQueue()
	cursor := core.NewMemoryCursorStore("")
	p := New(testConfig(), fetcher, queue, cursor, core.NewMemoryDeadLetterStore())

	result, err := p.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("sync now: %v", err)
	}
	if result.Fetched != 3 || result.Queued != 3 || result.Cursor != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(fetcher.calls) != 2 || fetcher.calls[0] != 0 || fetcher.calls[1] != 2 {
		t.Fatalf("expected paging from 0 then 2, got %v", fetcher.calls)
	}
	saved, _ := cursor.Load(context.Background())
	if saved != "3" {
		t.Fatalf("expected cursor 3, got %q", saved)
	}
	oldest, _, _ := queue.Oldest(context.Background())
	if oldest.Event.ID != "a" {
		t.Fatalf("expected arrival order kept, got %s first", oldest.Event.ID)
	}
}

func TestSyncNow_KeepsCursorOnFailure(t *testing.T) {
	cursor := core.NewMemoryCursorStore("7")
	fetcher := &pageFetcher{err: core.NetworkError(errors.New("dial tcp"), "poll", nil)}
	p := New(testConfig(), fetcher, core.NewMemoryEventQueue(), cursor, nil)

	if _, err := p.SyncNow(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}
	if saved, _ := cursor.Load(context.Background()); saved != "7" {
		t.Fatalf("expected cursor unchanged, got %q", saved)
	}
	if status := p.Status(context.Background()); status.LastError == "" || status.LastPollAt == nil || status.LastEventID != 7 {
		t.Fatalf("expected failure recorded in status, got %+v", status)
	}

	fetcher = &pageFetcher{pages: []webhooks.EventsPage{{Events: []core.CanonicalEvent{evt("a", 8)}, LastEventID: 8}}}
	p = New(testConfig(), fetcher, failingQueue{core.NewMemoryEventQueue()}, cursor, nil)
	if _, err := p.SyncNow(context.Background()); err == nil {
		t.Fatalf("expected append error")
	}
	if saved, _ := cursor.Load(context.Background()); saved != "7" {
		t.Fatalf("expected cursor unchanged after append failure, got %q", saved)
	}
}

func TestQueueEvent_DeduplicatesByID(t *testing.T) {
	queue := core.NewMemoryEventQueue()
	p := New(testConfig(), &pageFetcher{}, queue, core.NewMemoryCursorStore(""), nil)
	ctx := context.Background()

	if queued, err := p.QueueEvent(ctx, evt("a", 0)); err != nil || !queued {
		t.Fatalf("expected first event queued, got %v %v", queued, err)
	}
	if queued, _ := p.QueueEvent(ctx, evt("a", 0)); queued {
		t.Fatalf("expected duplicate ignored")
	}
	if length, _ := queue.Len(ctx); length != 1 {
		t.Fatalf("expected one queued event, got %d", length)
	}
	if _, err := p.QueueEvent(ctx, core.CanonicalEvent{}); !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected missing id rejected, got %v", err)
	}
}

func TestQueueEvent_OverflowMovesOldestToDeadLetters(t *testing.T) {
	cfg := testConfig()
	cfg.Processing.MaxQueueSize = 2
	queue := core.NewMemoryEventQueue()
	dead := core.NewMemoryDeadLetterStore()
	p := New(cfg, &pageFetcher{}, queue, core.NewMemoryCursorStore(""), dead)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := p.QueueEvent(ctx, evt(id, 0)); err != nil {
			t.Fatalf("queue %s: %v", id, err)
		}
	}
	if length, _ := queue.Len(ctx); length != 2 {
		t.Fatalf("expected queue capped at 2, got %d", length)
	}
	letters, _ := dead.List(ctx)
	if len(letters) != 1 || letters[0].Event.ID != "a" || letters[0].Reason != ReasonQueueOverflow {
		t.Fatalf("expected oldest event dead lettered, got %+v", letters)
	}
}

func TestStartStop(t *testing.T) {
	fetcher := &pageFetcher{notify: make(chan struct{}, 1)}
	after := make(chan time.Time)
	clock := core.Clock{
		Now:   time.Now,
		After: func(time.Duration) <-chan time.Time { return after },
	}
	p := New(testConfig(), fetcher, core.NewMemoryEventQueue(), core.NewMemoryCursorStore(""), nil, WithClock(clock))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-fetcher.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an immediate poll")
	}
	if !p.Status(context.Background()).Polling {
		t.Fatalf("expected polling status")
	}
	p.Stop()
	p.Stop()
	if p.Status(context.Background()).Polling {
		t.Fatalf("expected polling stopped")
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	p.Stop()
}

func TestStartIsNoopWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Features.Enabled = false
	p := New(cfg, &pageFetcher{}, core.NewMemoryEventQueue(), core.NewMemoryCursorStore(""), nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.Status(context.Background()).Polling {
		t.Fatalf("expected disabled poller to stay idle")
	}
}

func TestGatewayFetcher_AgainstGateway(t *testing.T) {
	store := webhooks.NewMemoryEventStore()
	expires := time.Now().Add(time.Hour)
	_, _ = store.Put(context.Background(), evt("a", 0), expires)
	_, _ = store.Put(context.Background(), evt("b", 0), expires)

	gwCfg := core.DefaultConfig()
	gwCfg.WebhookSecret = "secret"
	processor := webhooks.NewProcessor(gwCfg, webhooks.NewHMACVerifier(gwCfg), store)
	server := httptest.NewServer(webhooks.NewGateway(gwCfg, processor))
	defer server.Close()

	cfg := testConfig()
	cfg.WebhookURL = server.URL + "/webhook"
	fetcher, err := NewGatewayFetcher(cfg, transport.NewRESTAdapter(server.Client()))
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}
	page, err := fetcher.Fetch(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].ID != "b" || page.LastEventID != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
}

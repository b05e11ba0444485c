package entities

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

func TestOpportunityMapping(t *testing.T) {
	h := newHarness(t)
	quoteDate := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	quote := core.Quote{
		SyncState:   core.SyncState{LocalID: "q_1"},
		ClientName:  "Ann Lee",
		Status:      core.QuoteStatusAccepted,
		Total:       100,
		TotalIncGst: 110.456,
		QuoteDate:   &quoteDate,
		LineItems: []core.LineItem{
			{Description: "Front windows", ServiceType: ServiceWindowCleaning, Quantity: 4},
			{Description: "Driveway", ServiceType: ServicePressureWashing, Quantity: 1},
			{Description: "Rear windows", ServiceType: ServiceWindowCleaning, Quantity: 6},
		},
	}

	remote := h.opps.MapLocalToRemote(quote, "ct_1")
	if remote.Name != "Quote - Ann Lee" {
		t.Fatalf("unexpected default name %q", remote.Name)
	}
	if remote.MonetaryValue != 110.46 {
		t.Fatalf("expected rounded value 110.46, got %v", remote.MonetaryValue)
	}
	if remote.Status != OpportunityWon || remote.PipelineStageID != "won" || remote.PipelineID != "pipe_1" {
		t.Fatalf("unexpected status/stage %+v", remote)
	}
	if remote.CustomFields[FieldQuoteNumber] != "q_1" {
		t.Fatalf("expected local id as quote number, got %q", remote.CustomFields[FieldQuoteNumber])
	}
	if remote.CustomFields[FieldServiceTypes] != "Window Cleaning, Pressure Washing" {
		t.Fatalf("unexpected service types %q", remote.CustomFields[FieldServiceTypes])
	}
	if remote.CustomFields[FieldPrimaryService] != "Window Cleaning" {
		t.Fatalf("unexpected primary service %q", remote.CustomFields[FieldPrimaryService])
	}
	if remote.CustomFields[FieldQuoteDate] != "2026-02-01T00:00:00Z" {
		t.Fatalf("unexpected quote date %q", remote.CustomFields[FieldQuoteDate])
	}

	noGst := h.opps.MapLocalToRemote(core.Quote{Total: 99.999, Status: core.QuoteStatusDraft}, "")
	if noGst.MonetaryValue != 100 || noGst.Status != OpportunityOpen || noGst.PipelineStageID != "quote" {
		t.Fatalf("unexpected fallback mapping %+v", noGst)
	}
	if noGst.CustomFields[FieldPrimaryService] != "General Service" {
		t.Fatalf("expected general service, got %q", noGst.CustomFields[FieldPrimaryService])
	}
}

func TestOpportunityStageAndReverseStatus(t *testing.T) {
	h := newHarness(t)
	stages := map[string]string{
		core.QuoteStatusDraft:    "quote",
		core.QuoteStatusSent:     "quote",
		core.QuoteStatusPending:  "quote",
		core.QuoteStatusAccepted: "won",
		core.QuoteStatusDeclined: "lost",
		core.QuoteStatusFollowUp: "followUp",
	}
	for status, want := range stages {
		if got := h.opps.StageFor(status); got != want {
			t.Fatalf("StageFor(%s) = %s, want %s", status, got, want)
		}
	}
	reverse := map[string]string{
		OpportunityWon:       core.QuoteStatusAccepted,
		OpportunityLost:      core.QuoteStatusDeclined,
		OpportunityAbandoned: core.QuoteStatusDeclined,
		OpportunityOpen:      core.QuoteStatusSent,
	}
	for status, want := range reverse {
		if got := h.opps.MapRemoteToLocal(RemoteOpportunity{Status: status}).Status; got != want {
			t.Fatalf("reverse(%s) = %s, want %s", status, got, want)
		}
	}
}

func TestOpportunityPushBindsClientFirstAndPostsNote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.crm.on("POST", "/contacts/", 201, `{"contact":{"id":"ct_1"}}`)
	h.crm.on("POST", "/opportunities/", 201, `{"opportunity":{"id":"op_1"}}`)
	h.crm.on("POST", "/contacts/ct_1/notes", 201, `{"note":{"id":"n_1"}}`)
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1"}, Name: "Ann Lee"})
	quote := core.Quote{
		SyncState:   core.SyncState{LocalID: "q_1"},
		ClientID:    "c_1",
		ClientName:  "Ann Lee",
		Status:      core.QuoteStatusSent,
		Total:       200,
		TotalIncGst: 220,
		LineItems:   []core.LineItem{{Description: "Gutters", ServiceType: ServiceWindowCleaning, Quantity: 2}},
	}
	if err := h.quotes.Save(ctx, quote); err != nil {
		t.Fatalf("save quote: %v", err)
	}

	result, err := h.opps.Push(ctx, quote)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.RemoteID != "op_1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := h.client(t, "c_1").RemoteID; got != "ct_1" {
		t.Fatalf("expected client bound before the opportunity, got %q", got)
	}

	calls := h.crm.requests()
	order := make([]string, 0, len(calls))
	for _, call := range calls {
		order = append(order, call.Method+" "+call.URL)
	}
	want := []string{"POST /contacts/", "POST /opportunities/", "POST /contacts/ct_1/notes"}
	if strings.Join(order, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected call order %v", order)
	}

	var body RemoteOpportunity
	if err := json.Unmarshal(calls[1].Body, &body); err != nil {
		t.Fatalf("decode opportunity: %v", err)
	}
	if body.ContactID != "ct_1" || body.MonetaryValue != 220 {
		t.Fatalf("unexpected opportunity body %+v", body)
	}
	var note map[string]string
	if err := json.Unmarshal(calls[2].Body, &note); err != nil {
		t.Fatalf("decode note: %v", err)
	}
	if !strings.Contains(note["body"], "Window Cleaning:") || !strings.Contains(note["body"], "Total (inc GST): $220.00") {
		t.Fatalf("unexpected note body %q", note["body"])
	}

	stored, err := h.quotes.Get(ctx, "q_1")
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}
	if stored.RemoteID != "op_1" || stored.SyncStatus != core.SyncStatusSynced {
		t.Fatalf("unexpected quote state %+v", stored.SyncState)
	}
}

func TestOpportunityNoteFailureDoesNotFailPush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.crm.on("POST", "/opportunities/", 201, `{"id":"op_2"}`)
	h.crm.on("POST", "/contacts/ct_1/notes", 400, `{"message":"bad note"}`)
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1", RemoteID: "ct_1", SyncStatus: core.SyncStatusSynced}})
	quote := core.Quote{SyncState: core.SyncState{LocalID: "q_1"}, ClientID: "c_1"}
	if err := h.quotes.Save(ctx, quote); err != nil {
		t.Fatalf("save quote: %v", err)
	}

	result, err := h.opps.Push(ctx, quote)
	if err != nil {
		t.Fatalf("expected note failure to be tolerated, got %v", err)
	}
	if result.RemoteID != "op_2" {
		t.Fatalf("expected bare id to bind, got %+v", result)
	}
}

func TestOpportunityPushWaitsForQueuedClient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1"}, Name: "Queued Client"})
	quote := core.Quote{SyncState: core.SyncState{LocalID: "q_1"}, ClientID: "c_1"}
	if err := h.quotes.Save(ctx, quote); err != nil {
		t.Fatalf("save quote: %v", err)
	}
	if _, err := h.api.SetOffline(ctx, true); err != nil {
		t.Fatalf("set offline: %v", err)
	}

	result, err := h.opps.Push(ctx, quote)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !result.Queued || !strings.Contains(result.Reason, "c_1") {
		t.Fatalf("expected queued result waiting on client, got %+v", result)
	}
	if n, _ := h.api.QueueLength(ctx); n != 1 {
		t.Fatalf("expected only the contact create queued, got %d", n)
	}

	if _, err := h.opps.Push(ctx, quote); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if n, _ := h.api.QueueLength(ctx); n != 1 {
		t.Fatalf("expected pending client not to be queued twice, got %d", n)
	}
}

func TestOpportunityPullAppliesWonAndValue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.quotes.Save(ctx, core.Quote{
		SyncState: core.SyncState{LocalID: "q_1", RemoteID: "op_1", SyncStatus: core.SyncStatusSynced},
		Status:    core.QuoteStatusSent,
	}); err != nil {
		t.Fatalf("save quote: %v", err)
	}

	at := h.clock.advance(time.Hour)
	value := 512.346
	evt := event(t, core.EventOpportunityUpdated, "op_1", core.OpportunityPayload{ID: "op_1", Status: OpportunityWon, Value: &value}, at)
	if err := h.opps.Pull(ctx, evt); err != nil {
		t.Fatalf("pull: %v", err)
	}
	quote, _ := h.quotes.Get(ctx, "q_1")
	if quote.Status != core.QuoteStatusAccepted || quote.DateAccepted == nil || !quote.DateAccepted.Equal(at) {
		t.Fatalf("expected accepted with date, got %+v", quote)
	}
	if quote.TotalIncGst != 512.35 {
		t.Fatalf("expected rounded value, got %v", quote.TotalIncGst)
	}

	lostAt := h.clock.advance(time.Hour)
	lost := event(t, core.EventOpportunityUpdated, "op_1", core.OpportunityPayload{ID: "op_1", Status: OpportunityLost}, lostAt)
	if err := h.opps.Pull(ctx, lost); err != nil {
		t.Fatalf("pull lost: %v", err)
	}
	quote, _ = h.quotes.Get(ctx, "q_1")
	if quote.Status != core.QuoteStatusDeclined || quote.DateDeclined == nil {
		t.Fatalf("expected declined with date, got %+v", quote)
	}
}

func TestOpportunityPullIgnoresUnknownOpportunity(t *testing.T) {
	h := newHarness(t)
	evt := event(t, core.EventOpportunityUpdated, "op_x", core.OpportunityPayload{ID: "op_x", Status: OpportunityWon}, h.clock.clock().Time())
	if err := h.opps.Pull(context.Background(), evt); err != nil {
		t.Fatalf("expected unknown opportunity to be acknowledged, got %v", err)
	}
	all, _ := h.quotes.List(context.Background())
	if len(all) != 0 {
		t.Fatalf("expected no quote to be created")
	}
}

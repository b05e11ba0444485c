package entities

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

func TestContactMappingRoundTripKeepsIdentityFields(t *testing.T) {
	h := newHarness(t)
	client := core.Client{
		SyncState:      core.SyncState{LocalID: "c_1"},
		Name:           "Mary Jane Watson",
		Email:          "mary@example.com",
		Phone:          "0412 345 678",
		Street:         "12 Beach Rd",
		City:           "Perth",
		State:          "WA",
		Postcode:       "6000",
		ClientType:     core.ClientTypeCommercial,
		ServiceHistory: []string{ServicePressureWashing},
		TotalRevenue:   1250.5,
	}

	remote := h.contacts.MapLocalToRemote(client)
	if remote.FirstName != "Mary" || remote.LastName != "Jane Watson" {
		t.Fatalf("unexpected name split %q / %q", remote.FirstName, remote.LastName)
	}
	if remote.Country != ContactCountry || remote.Source != ContactSource || remote.LocationID != "loc_1" {
		t.Fatalf("unexpected fixed fields %+v", remote)
	}
	for _, tag := range []string{ContactTag, ServicePressureWashing, core.ClientTypeCommercial} {
		if !slices.Contains(remote.Tags, tag) {
			t.Fatalf("expected tag %q in %v", tag, remote.Tags)
		}
	}
	if remote.CustomField[FieldTotalRevenue] != "1250.5" || remote.CustomField[FieldClientType] != core.ClientTypeCommercial {
		t.Fatalf("unexpected custom fields %+v", remote.CustomField)
	}

	back := h.contacts.MapRemoteToLocal(remote)
	if back.Name != client.Name || back.Email != client.Email || back.Phone != client.Phone {
		t.Fatalf("identity fields lost: %+v", back)
	}
	if back.Street != client.Street || back.City != client.City || back.State != client.State || back.Postcode != client.Postcode {
		t.Fatalf("address lost: %+v", back)
	}
	if back.Location != "12 Beach Rd, Perth, WA, 6000" {
		t.Fatalf("unexpected location %q", back.Location)
	}
	if back.ClientType != core.ClientTypeCommercial || back.TotalRevenue != 1250.5 {
		t.Fatalf("unexpected client type or revenue %+v", back)
	}
}

func TestContactMappingParsesLocationFallback(t *testing.T) {
	h := newHarness(t)
	remote := h.contacts.MapLocalToRemote(core.Client{Name: "Solo", Location: "Unit 4, 9 King St, Fremantle, WA"})
	if remote.Address1 != "Unit 4, 9 King St" || remote.City != "Fremantle" || remote.State != "WA" {
		t.Fatalf("unexpected parsed address %+v", remote)
	}
	if remote.LastName != "" {
		t.Fatalf("expected empty last name for single word name, got %q", remote.LastName)
	}

	local := h.contacts.MapRemoteToLocal(RemoteContact{})
	if local.Name != "Unknown" || local.ClientType != core.ClientTypeResidential {
		t.Fatalf("unexpected defaults %+v", local)
	}
}

func TestContactPushCreatesThenPullUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.crm.on("GET", "/contacts/", 200, `{"contacts":[]}`)
	h.crm.on("POST", "/contacts/", 201, `{"contact":{"id":"ct_42"}}`)
	h.saveClient(t, core.Client{
		SyncState: core.SyncState{LocalID: "c_1", SyncStatus: core.SyncStatusUnsynced},
		Name:      "John Smith",
		Phone:     "0412345678",
	})

	result, err := h.contacts.Push(ctx, h.client(t, "c_1"))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.RemoteID != "ct_42" || result.Operation != core.OperationCreate || result.Queued {
		t.Fatalf("unexpected push result %+v", result)
	}
	pushed := h.client(t, "c_1")
	if pushed.RemoteID != "ct_42" || pushed.SyncStatus != core.SyncStatusSynced || pushed.LastSyncedAt == nil {
		t.Fatalf("expected bound synced client, got %+v", pushed.SyncState)
	}
	firstSync := *pushed.LastSyncedAt

	searches := h.crm.requests()
	if searches[0].Method != "GET" || searches[0].URL != "/contacts/?query=0412345678" {
		t.Fatalf("expected phone search first, got %s %s", searches[0].Method, searches[0].URL)
	}

	updatedAt := h.clock.advance(time.Minute)
	evt := event(t, core.EventContactUpdated, "ct_42", core.ContactPayload{
		ID:          "ct_42",
		FirstName:   "Johnny",
		LastName:    "Smith",
		Phone:       "0412345678",
		DateUpdated: &updatedAt,
	}, updatedAt)
	if err := h.contacts.Pull(ctx, evt); err != nil {
		t.Fatalf("pull: %v", err)
	}
	pulled := h.client(t, "c_1")
	if pulled.Name != "Johnny Smith" {
		t.Fatalf("expected name update, got %q", pulled.Name)
	}
	if pulled.SyncStatus != core.SyncStatusSynced {
		t.Fatalf("expected synced, got %s", pulled.SyncStatus)
	}
	if !pulled.LastSyncedAt.After(firstSync) || !pulled.LastSyncedAt.Equal(updatedAt) {
		t.Fatalf("expected last synced to advance to %s, got %s", updatedAt, pulled.LastSyncedAt)
	}
}

func TestContactPushBindsExistingRemoteBySearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.crm.on("GET", "/contacts/", 200, `{"contacts":[{"id":"ct_7"}]}`)
	h.crm.on("PUT", "/contacts/ct_7", 200, `{"contact":{"id":"ct_7"}}`)
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1"}, Name: "Kim", Email: "kim@example.com"})

	result, err := h.contacts.Push(ctx, h.client(t, "c_1"))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if result.Operation != core.OperationUpdate || result.RemoteID != "ct_7" {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.crm.count("POST", "/contacts/") != 0 {
		t.Fatalf("expected no contact create when search matched")
	}
	if got := h.client(t, "c_1"); got.RemoteID != "ct_7" || got.SyncStatus != core.SyncStatusSynced {
		t.Fatalf("unexpected client state %+v", got.SyncState)
	}
}

func TestContactPushOfflineQueuesAndBindsOnFlush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1"}, Name: "Offline Olly", Email: "olly@example.com"})
	if _, err := h.api.SetOffline(ctx, true); err != nil {
		t.Fatalf("set offline: %v", err)
	}

	result, err := h.contacts.Push(ctx, h.client(t, "c_1"))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !result.Queued {
		t.Fatalf("expected queued push, got %+v", result)
	}
	if got := h.client(t, "c_1").SyncStatus; got != core.SyncStatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
	if len(h.crm.requests()) != 0 {
		t.Fatalf("expected no transport calls while offline")
	}

	h.crm.on("POST", "/contacts/", 201, `{"contact":{"id":"ct_9"}}`)
	flushed, err := h.api.SetOffline(ctx, false)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if flushed.Sent != 1 {
		t.Fatalf("expected one flushed request, got %+v", flushed)
	}
	if got := h.client(t, "c_1"); got.RemoteID != "ct_9" || got.SyncStatus != core.SyncStatusSynced {
		t.Fatalf("expected completion to bind, got %+v", got.SyncState)
	}
}

func TestContactPullMatchesUnboundClientByEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.saveClient(t, core.Client{
		SyncState: core.SyncState{LocalID: "c_1", SyncStatus: core.SyncStatusSynced},
		Name:      "Old Name",
		Email:     "Match@Example.com",
		Notes:     "gate code 1234",
	})

	at := h.clock.advance(time.Minute)
	evt := event(t, core.EventContactUpdated, "ct_5", core.ContactPayload{ID: "ct_5", Name: "New Name", Email: "match@example.com"}, at)
	if err := h.contacts.Pull(ctx, evt); err != nil {
		t.Fatalf("pull: %v", err)
	}
	got := h.client(t, "c_1")
	if got.RemoteID != "ct_5" || got.Name != "New Name" {
		t.Fatalf("expected email match to bind and merge, got %+v", got)
	}
	if got.Notes != "gate code 1234" {
		t.Fatalf("expected local only notes to survive, got %q", got.Notes)
	}
	all, _ := h.clients.List(ctx)
	if len(all) != 1 {
		t.Fatalf("expected no new client, got %d", len(all))
	}
}

func TestContactPullCreatesUnknownClient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	at := h.clock.advance(time.Minute)
	evt := event(t, core.EventContactUpdated, "ct_new", core.ContactPayload{
		ID:        "ct_new",
		FirstName: "Nina",
		LastName:  "Park",
		Tags:      []string{"commercial"},
	}, at)

	if err := h.contacts.Pull(ctx, evt); err != nil {
		t.Fatalf("pull: %v", err)
	}
	created, found, err := h.clients.FindByRemoteID(ctx, "ct_new")
	if err != nil || !found {
		t.Fatalf("expected created client, found=%v err=%v", found, err)
	}
	if created.Name != "Nina Park" || created.ClientType != core.ClientTypeCommercial || created.SyncStatus != core.SyncStatusSynced {
		t.Fatalf("unexpected created client %+v", created)
	}
}

func TestContactPullHoldsConflictUnderManualPolicy(t *testing.T) {
	h := newHarness(t, func(cfg *core.SyncConfig) {
		cfg.Features.ConflictResolution = core.ConflictManual
	})
	ctx := context.Background()
	syncedAt := h.clock.clock().Time()
	editedAt := h.clock.advance(time.Minute)
	h.saveClient(t, core.Client{
		SyncState: core.SyncState{
			LocalID:        "c_1",
			RemoteID:       "ct_1",
			SyncStatus:     core.SyncStatusUnsynced,
			LastSyncedAt:   &syncedAt,
			LastModifiedAt: &editedAt,
		},
		Name: "Local Edit",
	})

	remoteAt := h.clock.advance(time.Minute)
	evt := event(t, core.EventContactUpdated, "ct_1", core.ContactPayload{ID: "ct_1", Name: "Remote Edit", DateUpdated: &remoteAt}, remoteAt)
	err := h.contacts.Pull(ctx, evt)
	if !core.HasTextCode(err, core.ErrorConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	held := h.client(t, "c_1")
	if held.SyncStatus != core.SyncStatusConflict || held.Name != "Local Edit" {
		t.Fatalf("expected untouched conflicted client, got %+v", held)
	}

	later := h.clock.advance(time.Minute)
	again := event(t, core.EventContactUpdated, "ct_1", core.ContactPayload{ID: "ct_1", Name: "Another Edit", DateUpdated: &later}, later)
	if err := h.contacts.Pull(ctx, again); !core.HasTextCode(err, core.ErrorConflict) {
		t.Fatalf("expected later events to stay held, got %v", err)
	}

	h.crm.on("GET", "/contacts/ct_1", 200, `{"contact":{"id":"ct_1","firstName":"Remote","lastName":"Edit"}}`)
	if err := h.contacts.Resolve(ctx, "c_1", core.KeepRemote); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	resolved := h.client(t, "c_1")
	if resolved.SyncStatus != core.SyncStatusSynced || resolved.Name != "Remote Edit" {
		t.Fatalf("expected remote version to win, got %+v", resolved)
	}
}

func TestContactPullKeepsNewerLocalEditUnderNewestWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	syncedAt := h.clock.clock().Time()
	remoteAt := syncedAt.Add(time.Minute)
	editedAt := syncedAt.Add(5 * time.Minute)
	h.saveClient(t, core.Client{
		SyncState: core.SyncState{
			LocalID:        "c_1",
			RemoteID:       "ct_1",
			SyncStatus:     core.SyncStatusPending,
			LastSyncedAt:   &syncedAt,
			LastModifiedAt: &editedAt,
		},
		Name: "Local Wins",
	})

	evt := event(t, core.EventContactUpdated, "ct_1", core.ContactPayload{ID: "ct_1", Name: "Stale Remote", DateUpdated: &remoteAt}, remoteAt)
	if err := h.contacts.Pull(ctx, evt); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if got := h.client(t, "c_1"); got.Name != "Local Wins" || got.SyncStatus != core.SyncStatusPending {
		t.Fatalf("expected local edit kept, got %+v", got)
	}
}

func TestContactDeleteTombstonesBoundAndRemovesUnbound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_local"}, Name: "Never Synced"})
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_bound", RemoteID: "ct_1", SyncStatus: core.SyncStatusSynced}, Name: "Bound"})

	if err := h.contacts.Delete(ctx, "c_local"); err != nil {
		t.Fatalf("delete unbound: %v", err)
	}
	if len(h.crm.requests()) != 0 {
		t.Fatalf("expected no remote call for unbound client")
	}
	if _, err := h.clients.Get(ctx, "c_local"); !core.IsNotFound(err) {
		t.Fatalf("expected unbound client removed, got %v", err)
	}

	if _, err := h.api.SetOffline(ctx, true); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	if err := h.contacts.Delete(ctx, "c_bound"); err != nil {
		t.Fatalf("delete bound: %v", err)
	}
	tombstone := h.client(t, "c_bound")
	if !tombstone.Deleted || tombstone.SyncStatus != core.SyncStatusPending {
		t.Fatalf("expected tombstone, got %+v", tombstone.SyncState)
	}

	h.crm.on("DELETE", "/contacts/ct_1", 200, `{"succeded":true}`)
	if _, err := h.api.SetOffline(ctx, false); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if _, err := h.clients.Get(ctx, "c_bound"); !core.IsNotFound(err) {
		t.Fatalf("expected delete completion to remove record, got %v", err)
	}
}

func TestContactUnlinkClearsBinding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	at := h.clock.clock().Time()
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1", RemoteID: "ct_1", SyncStatus: core.SyncStatusSynced, LastSyncedAt: &at}})

	if err := h.contacts.Unlink(ctx, "c_1"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	got := h.client(t, "c_1")
	if got.Bound() || got.SyncStatus != core.SyncStatusUnsynced || got.LastSyncedAt != nil {
		t.Fatalf("expected cleared binding, got %+v", got.SyncState)
	}
}

func TestContactPushSendsMappedBody(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.crm.on("PUT", "/contacts/ct_1", 200, `{}`)
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1", RemoteID: "ct_1"}, Name: "Body Check", ClientType: core.ClientTypeResidential})

	if _, err := h.contacts.Push(ctx, h.client(t, "c_1")); err != nil {
		t.Fatalf("push: %v", err)
	}
	calls := h.crm.requests()
	if len(calls) != 1 {
		t.Fatalf("expected a single update call, got %d", len(calls))
	}
	if calls[0].Query["locationId"] != "" {
		t.Fatalf("expected no location id on PUT")
	}
	var body RemoteContact
	if err := json.Unmarshal(calls[0].Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.FirstName != "Body" || !slices.Contains(body.Tags, core.ClientTypeResidential) {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestContactPushOfflineTwiceCreatesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1"}, Name: "First Draft", Email: "draft@example.com"})
	if _, err := h.api.SetOffline(ctx, true); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	if _, err := h.contacts.Push(ctx, h.client(t, "c_1")); err != nil {
		t.Fatalf("first push: %v", err)
	}

	edited := h.client(t, "c_1")
	edited.Name = "Final Name"
	edited.Touch(h.clock.advance(time.Minute))
	h.saveClient(t, edited)
	if _, err := h.contacts.Push(ctx, h.client(t, "c_1")); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if n, _ := h.api.QueueLength(ctx); n != 1 {
		t.Fatalf("expected one queued create, got %d", n)
	}

	h.crm.on("POST", "/contacts/", 201, `{"contact":{"id":"ct_5"}}`)
	flushed, err := h.api.SetOffline(ctx, false)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if flushed.Sent != 1 || h.crm.count("POST", "/contacts/") != 1 || h.crm.count("PUT", "/contacts/ct_5") != 0 {
		t.Fatalf("expected a single create, got %+v calls=%d", flushed, len(h.crm.requests()))
	}
	var sent RemoteContact
	if err := json.Unmarshal(h.crm.requests()[0].Body, &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent.FirstName != "Final" {
		t.Fatalf("expected latest state in create body, got %+v", sent)
	}
	if got := h.client(t, "c_1"); got.RemoteID != "ct_5" || got.SyncStatus != core.SyncStatusSynced {
		t.Fatalf("expected bound synced client, got %+v", got.SyncState)
	}
}

func TestContactEditWhileQueuedStaysUnsyncedAfterAck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.saveClient(t, core.Client{SyncState: core.SyncState{LocalID: "c_1"}, Name: "Old Name"})
	if _, err := h.api.SetOffline(ctx, true); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	if _, err := h.contacts.Push(ctx, h.client(t, "c_1")); err != nil {
		t.Fatalf("push: %v", err)
	}

	edited := h.client(t, "c_1")
	edited.Name = "New Name"
	edited.Touch(h.clock.advance(time.Minute))
	h.saveClient(t, edited)

	h.crm.on("POST", "/contacts/", 201, `{"contact":{"id":"ct_6"}}`)
	if _, err := h.api.SetOffline(ctx, false); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	acked := h.client(t, "c_1")
	if acked.RemoteID != "ct_6" || acked.SyncStatus != core.SyncStatusUnsynced || !needsPush(acked.SyncState) {
		t.Fatalf("expected bound client with unsent edit, got %+v", acked.SyncState)
	}

	h.crm.on("PUT", "/contacts/ct_6", 200, `{"contact":{"id":"ct_6"}}`)
	result, err := h.contacts.SyncPending(ctx)
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}
	if result.Synced != 1 || h.crm.count("PUT", "/contacts/ct_6") != 1 {
		t.Fatalf("expected the edit pushed as an update, got %+v", result)
	}
	if got := h.client(t, "c_1"); got.SyncStatus != core.SyncStatusSynced {
		t.Fatalf("expected synced after update, got %s", got.SyncStatus)
	}
}

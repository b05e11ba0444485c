package sqlstore

import (
	"context"
	"testing"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/entities"
)

type countingClientStore struct {
	*entities.MemoryClientStore
	remoteLookups int
}

func (s *countingClientStore) FindByRemoteID(ctx context.Context, remoteID string) (core.Client, bool, error) {
	s.remoteLookups++
	return s.MemoryClientStore.FindByRemoteID(ctx, remoteID)
}

func TestCachedClientStoreCachesRemoteLookups(t *testing.T) {
	ctx := context.Background()
	base := &countingClientStore{MemoryClientStore: entities.NewMemoryClientStore()}
	store, err := NewCachedClientStore(base, newTestRateLimitCacheService(t))
	if err != nil {
		t.Fatalf("new cached client store: %v", err)
	}
	client := core.Client{SyncState: core.SyncState{LocalID: "client_1", RemoteID: "ghl_1"}, Name: "Ada"}
	if err := store.Save(ctx, client); err != nil {
		t.Fatalf("save: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, found, err := store.FindByRemoteID(ctx, "ghl_1")
		if err != nil || !found || got.LocalID != "client_1" {
			t.Fatalf("lookup %d: got %+v found=%v err=%v", i, got, found, err)
		}
	}
	if base.remoteLookups != 1 {
		t.Fatalf("expected one base lookup, got %d", base.remoteLookups)
	}
}

func TestCachedClientStoreInvalidatesOnRebindAndDelete(t *testing.T) {
	ctx := context.Background()
	base := &countingClientStore{MemoryClientStore: entities.NewMemoryClientStore()}
	store, err := NewCachedClientStore(base, newTestRateLimitCacheService(t))
	if err != nil {
		t.Fatalf("new cached client store: %v", err)
	}

	if _, found, _ := store.FindByRemoteID(ctx, "ghl_2"); found {
		t.Fatalf("expected miss before save")
	}
	client := core.Client{SyncState: core.SyncState{LocalID: "client_2", RemoteID: "ghl_2"}}
	if err := store.Save(ctx, client); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, found, _ := store.FindByRemoteID(ctx, "ghl_2"); !found {
		t.Fatalf("expected cached miss to be dropped on save")
	}

	if err := store.Delete(ctx, "client_2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ := store.FindByRemoteID(ctx, "ghl_2"); found {
		t.Fatalf("expected delete to invalidate the lookup")
	}
}

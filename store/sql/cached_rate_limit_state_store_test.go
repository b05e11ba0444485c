package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/ratelimit"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type stubRateLimitStateStore struct {
	mu          sync.Mutex
	state       ratelimit.State
	getCalls    int
	upsertCalls int
	getErr      error
}

func (s *stubRateLimitStateStore) Get(_ context.Context, _ core.RateLimitKey) (ratelimit.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return ratelimit.State{}, s.getErr
	}
	return cloneRateLimitState(s.state), nil
}

func (s *stubRateLimitStateStore) Upsert(_ context.Context, state ratelimit.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	s.state = cloneRateLimitState(state)
	return nil
}

func TestCachedRateLimitStateStoreServesRepeatReadsFromCache(t *testing.T) {
	key := ratelimit.LocationKey("loc_cache_1")
	base := &stubRateLimitStateStore{state: ratelimit.State{
		Key:            key,
		BurstLimit:     100,
		BurstRemaining: 99,
		UpdatedAt:      time.Now().UTC(),
	}}
	store, err := NewCachedRateLimitStateStore(base, newTestRateLimitCacheService(t))
	if err != nil {
		t.Fatalf("new cached state store: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Get(context.Background(), key); err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}
	if base.getCalls != 1 {
		t.Fatalf("expected one base read, got %d", base.getCalls)
	}
}

func TestCachedRateLimitStateStoreUpsertInvalidates(t *testing.T) {
	key := ratelimit.LocationKey("loc_cache_2")
	until := time.Now().UTC().Add(time.Minute)
	base := &stubRateLimitStateStore{state: ratelimit.State{Key: key, BurstRemaining: 10}}
	store, err := NewCachedRateLimitStateStore(base, newTestRateLimitCacheService(t))
	if err != nil {
		t.Fatalf("new cached state store: %v", err)
	}

	if _, err := store.Get(context.Background(), key); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if err := store.Upsert(context.Background(), ratelimit.State{
		Key:            key,
		BurstRemaining: 0,
		ThrottledUntil: &until,
		LastStatus:     429,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if base.getCalls != 2 {
		t.Fatalf("expected upsert to force a second base read, got %d", base.getCalls)
	}
	if state.ThrottledUntil == nil || !state.ThrottledUntil.Equal(until) || state.LastStatus != 429 {
		t.Fatalf("expected refreshed throttle state, got %+v", state)
	}
}

func TestCachedRateLimitStateStoreNormalizesKeys(t *testing.T) {
	base := &stubRateLimitStateStore{state: ratelimit.State{Key: ratelimit.LocationKey("LOC_3")}}
	store, err := NewCachedRateLimitStateStore(base, newTestRateLimitCacheService(t))
	if err != nil {
		t.Fatalf("new cached state store: %v", err)
	}

	messy := core.RateLimitKey{ProviderID: " CRM ", ScopeType: " Location ", ScopeID: "LOC_3", BucketKey: " API "}
	if _, err := store.Get(context.Background(), messy); err != nil {
		t.Fatalf("get messy key: %v", err)
	}
	if _, err := store.Get(context.Background(), ratelimit.LocationKey("LOC_3")); err != nil {
		t.Fatalf("get clean key: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected normalized keys to share one entry, got %d base reads", base.getCalls)
	}
}

func TestRateLimitStateCacheKeyFormat(t *testing.T) {
	key, err := RateLimitStateCacheKey(core.RateLimitKey{
		ProviderID: " CRM ",
		ScopeType:  " Location ",
		ScopeID:    "Loc/North Shore",
		BucketKey:  " API:V1 ",
	})
	if err != nil {
		t.Fatalf("build cache key: %v", err)
	}
	const want = "crmsync::ratelimit_state::v1::crm::location::Loc%2FNorth%20Shore::api:v1"
	if key != want {
		t.Fatalf("got %q want %q", key, want)
	}

	if _, err := RateLimitStateCacheKey(core.RateLimitKey{ProviderID: "crm"}); !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input for a missing bucket, got %v", err)
	}
}

func TestCachedRateLimitStateStorePropagatesNotFound(t *testing.T) {
	base := &stubRateLimitStateStore{getErr: ratelimit.ErrStateNotFound}
	store, err := NewCachedRateLimitStateStore(base, newTestRateLimitCacheService(t))
	if err != nil {
		t.Fatalf("new cached state store: %v", err)
	}
	_, err = store.Get(context.Background(), ratelimit.LocationKey("loc_missing"))
	if !errors.Is(err, ratelimit.ErrStateNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func newTestRateLimitCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/entities"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const clientRemoteCacheKeyPrefix = "crmsync::client_remote::v1"

type cachedClientLookup struct {
	Client core.Client
	Found  bool
}

// CachedClientStore caches remote id lookups, which every inbound contact
// event performs before anything else. Writes go through and invalidate.
type CachedClientStore struct {
	entities.ClientStore
	cache repositorycache.CacheService
}

func NewCachedClientStore(base entities.ClientStore, cacheService repositorycache.CacheService) (*CachedClientStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base client store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: client cache service is required")
	}
	return &CachedClientStore{ClientStore: base, cache: cacheService}, nil
}

func ClientRemoteCacheKey(remoteID string) string {
	return clientRemoteCacheKeyPrefix + "::" + url.PathEscape(strings.TrimSpace(remoteID))
}

func (s *CachedClientStore) FindByRemoteID(ctx context.Context, remoteID string) (core.Client, bool, error) {
	if s == nil || s.ClientStore == nil || s.cache == nil {
		return core.Client{}, false, fmt.Errorf("sqlstore: cached client store is not configured")
	}
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return core.Client{}, false, nil
	}
	lookup, err := repositorycache.GetOrFetch(ctx, s.cache, ClientRemoteCacheKey(remoteID), func(ctx context.Context) (cachedClientLookup, error) {
		client, found, fetchErr := s.ClientStore.FindByRemoteID(ctx, remoteID)
		if fetchErr != nil {
			return cachedClientLookup{}, fetchErr
		}
		return cachedClientLookup{Client: client, Found: found}, nil
	})
	if err != nil {
		return core.Client{}, false, err
	}
	return lookup.Client, lookup.Found, nil
}

func (s *CachedClientStore) Save(ctx context.Context, client core.Client) error {
	if s == nil || s.ClientStore == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached client store is not configured")
	}
	previous := s.previousRemoteID(ctx, client.LocalID)
	if err := s.ClientStore.Save(ctx, client); err != nil {
		return err
	}
	return s.invalidate(ctx, previous, client.RemoteID)
}

func (s *CachedClientStore) Delete(ctx context.Context, localID string) error {
	if s == nil || s.ClientStore == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached client store is not configured")
	}
	previous := s.previousRemoteID(ctx, localID)
	if err := s.ClientStore.Delete(ctx, localID); err != nil {
		return err
	}
	return s.invalidate(ctx, previous)
}

func (s *CachedClientStore) previousRemoteID(ctx context.Context, localID string) string {
	existing, err := s.ClientStore.Get(ctx, localID)
	if err != nil {
		return ""
	}
	return existing.RemoteID
}

func (s *CachedClientStore) invalidate(ctx context.Context, remoteIDs ...string) error {
	seen := map[string]bool{}
	for _, remoteID := range remoteIDs {
		remoteID = strings.TrimSpace(remoteID)
		if remoteID == "" || seen[remoteID] {
			continue
		}
		seen[remoteID] = true
		if err := s.cache.Delete(ctx, ClientRemoteCacheKey(remoteID)); err != nil {
			return err
		}
	}
	return nil
}

package crmsync

import (
	"context"
	"sync"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/poller"
	"github.com/goliatone/go-crmsync/webhooks"
)

// gatewayFetcher follows config changes to the gateway address.
type gatewayFetcher struct {
	transport core.TransportAdapter

	mu      sync.RWMutex
	fetcher *poller.GatewayFetcher
	err     error
}

func newGatewayFetcher(cfg core.SyncConfig, transport core.TransportAdapter) *gatewayFetcher {
	f := &gatewayFetcher{transport: transport}
	f.Configure(cfg)
	return f
}

func (f *gatewayFetcher) Configure(cfg core.SyncConfig) {
	fetcher, err := poller.NewGatewayFetcher(cfg, f.transport)
	f.mu.Lock()
	f.fetcher, f.err = fetcher, err
	f.mu.Unlock()
}

func (f *gatewayFetcher) Fetch(ctx context.Context, since int64, limit int) (webhooks.EventsPage, error) {
	f.mu.RLock()
	fetcher, err := f.fetcher, f.err
	f.mu.RUnlock()
	if err != nil {
		return webhooks.EventsPage{}, err
	}
	return fetcher.Fetch(ctx, since, limit)
}

package crmsync

import (
	"context"
	"sync"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/transport"
)

// apiTransport is the bearer REST adapter for the CRM API. It is rebuilt
// when the API settings change at runtime.
type apiTransport struct {
	client transport.HTTPDoer

	mu      sync.RWMutex
	adapter *transport.RESTAdapter
}

func newAPITransport(client transport.HTTPDoer, api core.APIConfig) *apiTransport {
	t := &apiTransport{client: client}
	t.Configure(api)
	return t
}

func (t *apiTransport) Configure(api core.APIConfig) {
	adapter := transport.NewBearerAdapter(t.client, api.BaseURL, api.APIKey, api.Version)
	t.mu.Lock()
	t.adapter = adapter
	t.mu.Unlock()
}

func (*apiTransport) Kind() string {
	return transport.KindREST
}

func (t *apiTransport) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	t.mu.RLock()
	adapter := t.adapter
	t.mu.RUnlock()
	return adapter.Do(ctx, req)
}

package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/webhooks"
)

// GatewayFetcher reads GET /events from the webhook gateway.
type GatewayFetcher struct {
	transport core.TransportAdapter
	url       string
	timeout   time.Duration
}

func NewGatewayFetcher(cfg core.SyncConfig, transport core.TransportAdapter) (*GatewayFetcher, error) {
	url := cfg.EventsURL()
	if url == "" {
		return nil, core.ConfigError("polling.gateway_url", "gateway url is not configured")
	}
	if transport == nil {
		return nil, core.ConfigError("poller.transport", "gateway fetcher requires a transport")
	}
	return &GatewayFetcher{transport: transport, url: url, timeout: cfg.API.Timeout}, nil
}

func (f *GatewayFetcher) Fetch(ctx context.Context, since int64, limit int) (webhooks.EventsPage, error) {
	query := map[string]string{}
	if since > 0 {
		query["since"] = strconv.FormatInt(since, 10)
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	res, err := f.transport.Do(ctx, core.TransportRequest{
		Method:  http.MethodGet,
		URL:     f.url,
		Headers: map[string]string{"Accept": "application/json"},
		Query:   query,
		Timeout: f.timeout,
	})
	if err != nil {
		return webhooks.EventsPage{}, core.NetworkError(err, "poll gateway events", map[string]any{"url": f.url})
	}
	if res.StatusCode != http.StatusOK {
		return webhooks.EventsPage{}, core.RemoteRejectedError(res.StatusCode, "gateway returned "+strings.TrimSpace(http.StatusText(res.StatusCode)), map[string]any{"url": f.url})
	}
	var page webhooks.EventsPage
	if err := json.Unmarshal(res.Body, &page); err != nil {
		return webhooks.EventsPage{}, core.WrapTransformError(err, "decode gateway events", map[string]any{"url": f.url})
	}
	return page, nil
}

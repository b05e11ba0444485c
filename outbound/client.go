package outbound

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/goliatone/go-crmsync/core"
	"github.com/goliatone/go-crmsync/ratelimit"
)

// Response is the outcome of a CRM call. Queued responses carry no body;
// their result is delivered to the CompletionHandler of the request kind.
type Response struct {
	RequestID  string
	StatusCode int
	Headers    map[string]string
	Body       json.RawMessage
	Queued     bool
}

func (r Response) Decode(target any) error {
	if len(r.Body) == 0 {
		return core.TransformError("response body is empty", map[string]any{"request_id": r.RequestID})
	}
	if err := json.Unmarshal(r.Body, target); err != nil {
		return core.WrapTransformError(err, "decode crm response", map[string]any{"request_id": r.RequestID})
	}
	return nil
}

// String returns the value at a gjson path, e.g. "contact.id".
func (r Response) String(path string) string {
	return jsonString(r.Body, path)
}

// FirstString returns the first non empty value among paths.
func (r Response) FirstString(paths ...string) string {
	for _, path := range paths {
		if value := r.String(path); value != "" {
			return value
		}
	}
	return ""
}

func (r Response) Result(path string) gjson.Result {
	if len(r.Body) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Body, path)
}

type CompletionHandler interface {
	Complete(ctx context.Context, req core.OutboundRequest, res Response, err error) error
}

type CompletionFunc func(ctx context.Context, req core.OutboundRequest, res Response, err error) error

func (f CompletionFunc) Complete(ctx context.Context, req core.OutboundRequest, res Response, err error) error {
	if f == nil {
		return nil
	}
	return f(ctx, req, res, err)
}

type Option func(*Client)

func WithRateLimitPolicy(policy core.RateLimitPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithClock(clock core.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(c *Client) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithProbe overrides the connectivity check used before replaying the queue.
func WithProbe(probe func(ctx context.Context) error) Option {
	return func(c *Client) {
		c.probe = probe
	}
}

// Client talks to the CRM API and owns the durable outbound request queue.
type Client struct {
	transport core.TransportAdapter
	store     core.RequestStore
	policy    core.RateLimitPolicy
	clock     core.Clock
	observer  *core.Observer
	probe     func(ctx context.Context) error

	mu          sync.RWMutex
	api         core.APIConfig
	offline     bool
	completions map[core.EntityKind]CompletionHandler

	flushMu sync.Mutex
}

func NewClient(cfg core.APIConfig, transport core.TransportAdapter, store core.RequestStore, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, clientDependencyError("outbound: transport adapter is required")
	}
	if store == nil {
		store = NewMemoryRequestStore()
	}
	defaultObserver := core.NewObserver("crmsync.outbound", nil, nil)
	client := &Client{
		transport:   transport,
		store:       store,
		clock:       core.SystemClock(),
		observer:    defaultObserver,
		api:         cfg,
		completions: map[core.EntityKind]CompletionHandler{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.observer == defaultObserver {
		defaultObserver.Now = client.clock.Time
	}
	// Throttle windows must be read on the clock the client sleeps on.
	if adaptive, ok := client.policy.(*ratelimit.AdaptivePolicy); ok && adaptive != nil {
		adaptive.Now = client.clock.Time
	}
	return client, nil
}

func (c *Client) Configure(cfg core.APIConfig) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.api = cfg
	c.mu.Unlock()
}

func (c *Client) Configured() bool {
	api := c.config()
	return strings.TrimSpace(api.APIKey) != "" && strings.TrimSpace(api.LocationID) != ""
}

func (c *Client) LocationID() string {
	return strings.TrimSpace(c.config().LocationID)
}

// RegisterCompletion routes finished queued requests of kind to handler.
func (c *Client) RegisterCompletion(kind core.EntityKind, handler CompletionHandler) {
	if c == nil || handler == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions[kind] = handler
}

func (c *Client) Offline() bool {
	if c == nil {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offline
}

// SetOffline toggles the offline flag. Coming back online replays the queue.
func (c *Client) SetOffline(ctx context.Context, offline bool) (FlushResult, error) {
	if c == nil {
		return FlushResult{}, clientDependencyError("outbound: client is not configured")
	}
	c.mu.Lock()
	was := c.offline
	c.offline = offline
	c.mu.Unlock()
	if offline || !was {
		return FlushResult{}, nil
	}
	c.observer.Info(ctx, "crm connectivity restored", nil)
	return c.Flush(ctx)
}

// Probe checks connectivity with a lightweight location read.
func (c *Client) Probe(ctx context.Context) error {
	if c == nil {
		return clientDependencyError("outbound: client is not configured")
	}
	if c.probe != nil {
		return c.probe(ctx)
	}
	_, err := c.send(ctx, core.OutboundRequest{
		Method:   http.MethodGet,
		Endpoint: "/locations/" + c.LocationID(),
	})
	return err
}

// Do sends a request, retrying transient failures. When the CRM is
// unreachable, or older requests are still queued, the request is stored
// and replayed later in order.
func (c *Client) Do(ctx context.Context, req core.OutboundRequest) (Response, error) {
	if c == nil {
		return Response{}, clientDependencyError("outbound: client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := c.normalize(req)
	if err != nil {
		return Response{}, err
	}
	if !c.Configured() {
		return Response{}, core.ConfigError("api", "crm api key and location id are required")
	}

	if c.Offline() {
		return c.enqueue(ctx, req, "offline")
	}
	pending, err := c.store.Len(ctx)
	if err != nil {
		return Response{}, err
	}
	if pending > 0 {
		res, err := c.enqueue(ctx, req, "queue_not_empty")
		if err != nil {
			return res, err
		}
		if _, flushErr := c.Flush(ctx); flushErr != nil {
			c.observer.Warn(ctx, "flush after enqueue failed", map[string]any{"error": flushErr.Error()})
		}
		return res, nil
	}

	startedAt := c.clock.Time()
	res, err := c.doWithRetry(ctx, req)
	c.observer.Observe(ctx, "crm_request", startedAt, err, map[string]any{
		"method":      req.Method,
		"endpoint":    req.Endpoint,
		"entity_kind": string(req.EntityKind),
		"queued":      res.Queued,
	})
	return res, err
}

func (c *Client) doWithRetry(ctx context.Context, req core.OutboundRequest) (Response, error) {
	retries := c.retryAttempts()
	for attempt := 0; ; attempt++ {
		res, err := c.send(ctx, req)
		if err == nil {
			return res, nil
		}
		req.Attempts++
		req.LastError = err.Error()

		if !core.IsRetryable(err) {
			return Response{RequestID: req.ID}, c.fail(ctx, req, err)
		}
		if attempt >= retries {
			if isUnreachable(err) {
				c.mu.Lock()
				c.offline = true
				c.mu.Unlock()
				req.Attempts = 0
				return c.enqueue(ctx, req, "unreachable")
			}
			return Response{RequestID: req.ID}, c.fail(ctx, req, core.RetryExhaustedError(err, req.Attempts, map[string]any{
				"method":   req.Method,
				"endpoint": req.Endpoint,
			}))
		}

		delay := c.backoff(attempt)
		if hint, ok := core.RetryAfter(err); ok {
			if hint > c.maxRetryDelay() {
				req.NextAttemptAt = c.clock.Time().Add(hint)
				return c.enqueue(ctx, req, "rate_limited")
			}
			delay = hint
		}
		c.observer.Debug(ctx, "retrying crm request", map[string]any{
			"method":   req.Method,
			"endpoint": req.Endpoint,
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
		})
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return Response{RequestID: req.ID}, err
		}
	}
}

// send performs a single attempt.
func (c *Client) send(ctx context.Context, req core.OutboundRequest) (Response, error) {
	api := c.config()
	key := ratelimit.LocationKey(api.LocationID)
	if c.policy != nil {
		if err := c.policy.BeforeCall(ctx, key); err != nil {
			return Response{}, err
		}
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	treq := core.TransportRequest{
		Method:  method,
		URL:     req.Endpoint,
		Body:    req.Body,
		Timeout: api.Timeout,
	}
	if !strings.Contains(req.Endpoint, "?") && (method == http.MethodGet || method == http.MethodPost) {
		treq.Query = map[string]string{"locationId": strings.TrimSpace(api.LocationID)}
	}

	tres, err := c.transport.Do(ctx, treq)
	if err != nil {
		if core.HasTextCode(err, core.ErrorNetworkFailed) {
			return Response{}, unreachableError(err, req)
		}
		return Response{}, err
	}

	if c.policy != nil {
		meta := core.ResponseMeta{StatusCode: tres.StatusCode, Headers: tres.Headers, Metadata: map[string]any{"endpoint": req.Endpoint}}
		if hint, ok := ratelimit.ParseRetryAfter(tres.Headers, c.clock.Time()); ok {
			meta.RetryAfter = &hint
		}
		if err := c.policy.AfterCall(ctx, key, meta); err != nil {
			c.observer.Warn(ctx, "rate limit state update failed", map[string]any{"error": err.Error()})
		}
	}

	res := Response{
		RequestID:  req.ID,
		StatusCode: tres.StatusCode,
		Headers:    tres.Headers,
		Body:       tres.Body,
	}
	switch {
	case tres.StatusCode >= 200 && tres.StatusCode < 300:
		return res, nil
	case tres.StatusCode == http.StatusNotFound && method == http.MethodDelete:
		return res, nil
	case tres.StatusCode == http.StatusTooManyRequests:
		hint, _ := ratelimit.ParseRetryAfter(tres.Headers, c.clock.Time())
		return res, core.RateLimitError(hint, map[string]any{"endpoint": req.Endpoint})
	default:
		return res, statusError(req, tres.StatusCode, tres.Body)
	}
}

func (c *Client) enqueue(ctx context.Context, req core.OutboundRequest, reason string) (Response, error) {
	req.Status = core.RequestStatusQueued
	if res, ok, err := c.coalesce(ctx, req); err != nil || ok {
		return res, err
	}
	if err := c.store.Append(ctx, req); err != nil {
		return Response{}, err
	}
	c.observer.Info(ctx, "crm request queued", map[string]any{
		"request_id":  req.ID,
		"method":      req.Method,
		"endpoint":    req.Endpoint,
		"entity_kind": string(req.EntityKind),
		"reason":      reason,
	})
	return Response{RequestID: req.ID, Queued: true}, nil
}

// coalesce folds a create or update into the entity's latest queued
// request of the same operation, so an unbound record is created once and
// the queued body always carries its current state.
func (c *Client) coalesce(ctx context.Context, req core.OutboundRequest) (Response, bool, error) {
	if req.EntityID == "" || (req.Operation != core.OperationCreate && req.Operation != core.OperationUpdate) {
		return Response{}, false, nil
	}
	pending, err := c.store.Pending(ctx)
	if err != nil {
		return Response{}, false, err
	}
	for i := len(pending) - 1; i >= 0; i-- {
		queued := pending[i]
		if queued.EntityKind != req.EntityKind || queued.EntityID != req.EntityID {
			continue
		}
		if queued.Operation != req.Operation || queued.Method != req.Method {
			return Response{}, false, nil
		}
		queued.Endpoint = req.Endpoint
		queued.Body = req.Body
		queued.UpdatedAt = req.UpdatedAt
		if err := c.store.Update(ctx, queued); err != nil {
			return Response{}, false, err
		}
		c.observer.Info(ctx, "crm request coalesced", map[string]any{
			"request_id":  queued.ID,
			"method":      queued.Method,
			"endpoint":    queued.Endpoint,
			"entity_kind": string(queued.EntityKind),
			"entity_id":   queued.EntityID,
		})
		return Response{RequestID: queued.ID, Queued: true}, true, nil
	}
	return Response{}, false, nil
}

func (c *Client) fail(ctx context.Context, req core.OutboundRequest, cause error) error {
	req.Status = core.RequestStatusFailed
	req.LastError = cause.Error()
	if err := c.store.Append(ctx, req); err != nil {
		c.observer.Error(ctx, "store failed crm request", map[string]any{"request_id": req.ID, "error": err.Error()})
	}
	c.observer.Error(ctx, "crm request failed", map[string]any{
		"request_id": req.ID,
		"method":     req.Method,
		"endpoint":   req.Endpoint,
		"attempts":   req.Attempts,
		"error":      cause.Error(),
	})
	return cause
}

func (c *Client) normalize(req core.OutboundRequest) (core.OutboundRequest, error) {
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Method == "" {
		return req, core.BadInputError("request method is required", nil)
	}
	if req.Endpoint == "" {
		return req, core.BadInputError("request endpoint is required", nil)
	}
	if !strings.HasPrefix(req.Endpoint, "/") {
		req.Endpoint = "/" + req.Endpoint
	}
	if strings.TrimSpace(req.ID) == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return req, core.ApplyError(err, "generate request id", nil)
		}
		req.ID = id.String()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = c.clock.Time()
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.EnqueuedAt
	}
	if req.Operation == "" {
		req.Operation = core.OperationOther
	}
	return req, nil
}

func (c *Client) config() core.APIConfig {
	if c == nil {
		return core.APIConfig{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.api
}

func (c *Client) retryAttempts() int {
	if attempts := c.config().RetryAttempts; attempts > 0 {
		return attempts
	}
	return 0
}

func (c *Client) maxRetryDelay() time.Duration {
	if delay := c.config().MaxRetryDelay; delay > 0 {
		return delay
	}
	return time.Minute
}

// backoff is RetryDelay*2^attempt capped at MaxRetryDelay.
func (c *Client) backoff(attempt int) time.Duration {
	initial := c.config().RetryDelay
	if initial <= 0 {
		initial = time.Second
	}
	return core.ExponentialBackoff{Initial: initial, Max: c.maxRetryDelay()}.NextDelay(attempt + 1)
}

func (c *Client) completion(kind core.EntityKind) CompletionHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completions[kind]
}

func jsonString(body []byte, path string) string {
	if len(body) == 0 || strings.TrimSpace(path) == "" {
		return ""
	}
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return ""
	}
	return strings.TrimSpace(result.String())
}

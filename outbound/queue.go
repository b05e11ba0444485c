package outbound

import (
	"context"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

type FlushResult struct {
	Sent      int
	Failed    int
	Remaining int
	Blocked   bool
}

// Flush replays queued requests in enqueue order. It stops at the first
// request that is still retryable so later requests never overtake it.
func (c *Client) Flush(ctx context.Context) (FlushResult, error) {
	if c == nil {
		return FlushResult{}, clientDependencyError("outbound: client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.flushMu.TryLock() {
		return FlushResult{Blocked: true}, nil
	}
	defer c.flushMu.Unlock()

	startedAt := c.clock.Time()
	result, err := c.flush(ctx)
	c.observer.Observe(ctx, "crm_flush", startedAt, err, map[string]any{
		"sent":      result.Sent,
		"failed":    result.Failed,
		"remaining": result.Remaining,
	})
	return result, err
}

func (c *Client) flush(ctx context.Context) (FlushResult, error) {
	result := FlushResult{}
	pending, err := c.store.Pending(ctx)
	if err != nil {
		return result, err
	}
	if len(pending) == 0 {
		return result, nil
	}

	if c.Offline() {
		if err := c.Probe(ctx); err != nil {
			result.Remaining = len(pending)
			result.Blocked = true
			return result, nil
		}
		c.mu.Lock()
		c.offline = false
		c.mu.Unlock()
	}

	retries := c.retryAttempts()
	for i, req := range pending {
		if err := ctx.Err(); err != nil {
			result.Remaining = len(pending) - i
			return result, err
		}
		now := c.clock.Time()
		if !req.NextAttemptAt.IsZero() && req.NextAttemptAt.After(now) {
			result.Remaining = len(pending) - i
			result.Blocked = true
			return result, nil
		}

		res, sendErr := c.send(ctx, req)
		if sendErr == nil {
			if err := c.store.Remove(ctx, req.ID); err != nil {
				return result, err
			}
			result.Sent++
			c.complete(ctx, req, res, nil)
			continue
		}

		req.LastError = sendErr.Error()
		if isUnreachable(sendErr) {
			c.mu.Lock()
			c.offline = true
			c.mu.Unlock()
			if err := c.store.Update(ctx, req); err != nil {
				return result, err
			}
			result.Remaining = len(pending) - i
			result.Blocked = true
			return result, nil
		}

		req.Attempts++
		if core.IsRetryable(sendErr) && req.Attempts <= retries {
			delay := c.backoff(req.Attempts - 1)
			if hint, ok := core.RetryAfter(sendErr); ok && hint > delay {
				delay = hint
			}
			req.NextAttemptAt = now.Add(delay)
			if err := c.store.Update(ctx, req); err != nil {
				return result, err
			}
			result.Remaining = len(pending) - i
			result.Blocked = true
			return result, nil
		}

		finalErr := sendErr
		if core.IsRetryable(sendErr) {
			finalErr = core.RetryExhaustedError(sendErr, req.Attempts, map[string]any{"endpoint": req.Endpoint})
		}
		req.Status = core.RequestStatusFailed
		req.LastError = finalErr.Error()
		if err := c.store.Update(ctx, req); err != nil {
			return result, err
		}
		result.Failed++
		c.observer.Error(ctx, "queued crm request failed", map[string]any{
			"request_id":  req.ID,
			"method":      req.Method,
			"endpoint":    req.Endpoint,
			"entity_kind": string(req.EntityKind),
			"attempts":    req.Attempts,
			"error":       finalErr.Error(),
		})
		c.complete(ctx, req, res, finalErr)
	}
	return result, nil
}

func (c *Client) complete(ctx context.Context, req core.OutboundRequest, res Response, cause error) {
	handler := c.completion(req.EntityKind)
	if handler == nil {
		return
	}
	if err := handler.Complete(ctx, req, res, cause); err != nil {
		c.observer.Error(ctx, "request completion failed", map[string]any{
			"request_id":  req.ID,
			"entity_kind": string(req.EntityKind),
			"entity_id":   req.EntityID,
			"error":       err.Error(),
		})
	}
}

func (c *Client) QueueLength(ctx context.Context) (int, error) {
	if c == nil {
		return 0, clientDependencyError("outbound: client is not configured")
	}
	return c.store.Len(ctx)
}

func (c *Client) ClearQueue(ctx context.Context) error {
	if c == nil {
		return clientDependencyError("outbound: client is not configured")
	}
	return c.store.Clear(ctx)
}

func (c *Client) FailedRequests(ctx context.Context) ([]core.OutboundRequest, error) {
	if c == nil {
		return nil, clientDependencyError("outbound: client is not configured")
	}
	return c.store.Failed(ctx)
}

// NextAttemptAt reports when the head of the queue becomes due.
func (c *Client) NextAttemptAt(ctx context.Context) (time.Time, bool, error) {
	if c == nil {
		return time.Time{}, false, clientDependencyError("outbound: client is not configured")
	}
	pending, err := c.store.Pending(ctx)
	if err != nil || len(pending) == 0 {
		return time.Time{}, false, err
	}
	return pending[0].NextAttemptAt, true, nil
}

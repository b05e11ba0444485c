package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

const (
	HeaderBurstLimit     = "X-RateLimit-Max"
	HeaderBurstRemaining = "X-RateLimit-Remaining"
	HeaderInterval       = "X-RateLimit-Interval-Milliseconds"
	HeaderDailyLimit     = "X-RateLimit-Limit-Daily"
	HeaderDailyRemaining = "X-RateLimit-Daily-Remaining"
	HeaderRetryAfter     = "Retry-After"
)

// LocationKey is the bucket shared by every call made for one CRM location.
func LocationKey(locationID string) core.RateLimitKey {
	return core.RateLimitKey{ProviderID: "crm", ScopeType: "location", ScopeID: locationID, BucketKey: "api"}
}

// AdaptivePolicy blocks calls while a bucket is known to be exhausted.
// Burst windows come from the interval header, daily windows end at UTC midnight.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key core.RateLimitKey) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = NormalizeKey(key)
	state, err := p.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}
	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return core.RateLimitError(until.Sub(now), map[string]any{
			"scope_id":    key.ScopeID,
			"bucket_key":  key.BucketKey,
			"last_status": state.LastStatus,
		})
	}
	return nil
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key core.RateLimitKey, res core.ResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = NormalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = State{Key: key}
	case err != nil:
		return err
	}

	state.LastStatus = res.StatusCode
	state.UpdatedAt = now
	state.Metadata = cloneMap(state.Metadata)
	for k, v := range res.Metadata {
		state.Metadata[k] = v
	}

	burstRemaining, hasBurst := parseHeaderInt(res.Headers, HeaderBurstRemaining)
	if hasBurst {
		state.BurstRemaining = burstRemaining
	}
	if limit, ok := parseHeaderInt(res.Headers, HeaderBurstLimit); ok {
		state.BurstLimit = limit
	}
	if interval, ok := parseHeaderInt(res.Headers, HeaderInterval); ok && interval > 0 {
		state.Interval = time.Duration(interval) * time.Millisecond
	}
	dailyRemaining, hasDaily := parseHeaderInt(res.Headers, HeaderDailyRemaining)
	if hasDaily {
		state.DailyRemaining = dailyRemaining
	}
	if limit, ok := parseHeaderInt(res.Headers, HeaderDailyLimit); ok {
		state.DailyLimit = limit
	}

	var until time.Time
	switch {
	case res.StatusCode == 429:
		state.Attempts++
		delay, ok := parseRetryAfter(res, now)
		if !ok {
			delay = p.nextBackoff(state.Attempts)
		}
		until = now.Add(delay)
	case hasDaily && dailyRemaining <= 0:
		until = nextUTCMidnight(now)
	case hasBurst && burstRemaining <= 0:
		interval := state.Interval
		if interval <= 0 {
			interval = p.nextBackoff(1)
		}
		until = now.Add(interval)
	}

	if until.IsZero() {
		if res.StatusCode < 500 {
			state.Attempts = 0
		}
		state.ThrottledUntil = nil
	} else {
		state.ThrottledUntil = &until
	}
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	return core.ExponentialBackoff{Initial: p.InitialBackoff, Max: p.maxBackoff()}.NextDelay(attempt)
}

func (p *AdaptivePolicy) maxBackoff() time.Duration {
	if p.MaxBackoff > 0 {
		return p.MaxBackoff
	}
	return time.Minute
}

func nextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// ParseRetryAfter reads a Retry-After hint as seconds or an HTTP date.
func ParseRetryAfter(headers map[string]string, now time.Time) (time.Duration, bool) {
	return parseRetryAfter(core.ResponseMeta{Headers: headers}, now)
}

func parseRetryAfter(res core.ResponseMeta, now time.Time) (time.Duration, bool) {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		return *res.RetryAfter, true
	}
	raw := headerValue(res.Headers, HeaderRetryAfter)
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if retryAt, err := time.Parse(layout, raw); err == nil {
			if retryAt.After(now) {
				return retryAt.Sub(now), true
			}
			return 0, false
		}
	}
	return 0, false
}

func parseHeaderInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ core.RateLimitPolicy = (*AdaptivePolicy)(nil)

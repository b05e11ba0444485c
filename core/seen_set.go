package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultSeenTTL = 24 * time.Hour
const defaultSeenMaxEntries = 16384

// MemorySeenSet remembers applied event ids until their TTL lapses.
type MemorySeenSet struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	entries    map[string]time.Time
	Now        func() time.Time
}

func NewMemorySeenSet(defaultTTL time.Duration) *MemorySeenSet {
	return NewMemorySeenSetWithLimits(defaultTTL, defaultSeenMaxEntries)
}

func NewMemorySeenSetWithLimits(defaultTTL time.Duration, maxEntries int) *MemorySeenSet {
	if defaultTTL <= 0 {
		defaultTTL = defaultSeenTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultSeenMaxEntries
	}
	return &MemorySeenSet{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemorySeenSet) Seen(_ context.Context, key string) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: seen set is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("core: seen key is required")
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	expiresAt, ok := l.entries[key]
	if !ok {
		return false, nil
	}
	if now.Before(expiresAt) {
		return true, nil
	}
	delete(l.entries, key)
	return false, nil
}

func (l *MemorySeenSet) Mark(_ context.Context, key string, ttl time.Duration) error {
	if l == nil {
		return fmt.Errorf("core: seen set is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("core: seen key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneExpiredLocked(now)
	if _, exists := l.entries[key]; !exists {
		l.enforceCapacityLocked(1)
	}
	l.entries[key] = now.Add(ttl)
	return nil
}

func (l *MemorySeenSet) PurgeExpired(_ context.Context) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("core: seen set is not configured")
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	before := len(l.entries)
	l.pruneExpiredLocked(now)
	return before - len(l.entries), nil
}

func (l *MemorySeenSet) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemorySeenSet) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemorySeenSet) pruneExpiredLocked(now time.Time) {
	for key, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, key)
		}
	}
}

func (l *MemorySeenSet) enforceCapacityLocked(incoming int) {
	if l.maxEntries <= 0 {
		return
	}
	target := l.maxEntries - incoming
	if target < 0 {
		target = 0
	}
	for len(l.entries) > target {
		var oldestKey string
		var oldestExpiry time.Time
		for key, expiry := range l.entries {
			if oldestKey == "" || expiry.Before(oldestExpiry) {
				oldestKey = key
				oldestExpiry = expiry
			}
		}
		delete(l.entries, oldestKey)
	}
}

var _ SeenSet = (*MemorySeenSet)(nil)

package webhooks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-crmsync/core"
)

const DefaultPollLimit = 500

type storedEvent struct {
	event     core.CanonicalEvent
	expiresAt time.Time
}

// MemoryEventStore keeps gateway events in process. Sequences start at 1 and
// only grow.
type MemoryEventStore struct {
	mu     sync.Mutex
	next   int64
	events map[string]storedEvent
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: map[string]storedEvent{}}
}

func (s *MemoryEventStore) Put(_ context.Context, event core.CanonicalEvent, expiresAt time.Time) (core.CanonicalEvent, error) {
	id := strings.TrimSpace(event.ID)
	if id == "" {
		return core.CanonicalEvent{}, core.BadInputError("event id is required", nil)
	}
	event.ID = id

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.events[id]; ok {
		event.Sequence = existing.event.Sequence
	} else {
		s.next++
		event.Sequence = s.next
	}
	s.events[id] = storedEvent{event: event, expiresAt: expiresAt.UTC()}
	return event, nil
}

func (s *MemoryEventStore) Since(_ context.Context, since int64, limit int, now time.Time) ([]core.CanonicalEvent, error) {
	if limit <= 0 || limit > DefaultPollLimit {
		limit = DefaultPollLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.CanonicalEvent, 0, len(s.events))
	for _, stored := range s.events {
		if stored.event.Sequence <= since || !stored.expiresAt.After(now) {
			continue
		}
		out = append(out, stored.event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryEventStore) PruneExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, stored := range s.events {
		if !stored.expiresAt.After(now) {
			delete(s.events, id)
			removed++
		}
	}
	return removed, nil
}

var _ core.EventStore = (*MemoryEventStore)(nil)

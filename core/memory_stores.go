package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryEventQueue is an append-only log with an id index.
type MemoryEventQueue struct {
	mu    sync.Mutex
	order []string
	items map[string]QueuedEvent
}

func NewMemoryEventQueue() *MemoryEventQueue {
	return &MemoryEventQueue{items: map[string]QueuedEvent{}}
}

func (q *MemoryEventQueue) Append(_ context.Context, events ...QueuedEvent) error {
	if q == nil {
		return fmt.Errorf("core: event queue is not configured")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, event := range events {
		id := strings.TrimSpace(event.Event.ID)
		if id == "" {
			return fmt.Errorf("core: queued event id is required")
		}
		if _, exists := q.items[id]; exists {
			continue
		}
		event.Event.ID = id
		q.items[id] = event
		q.order = append(q.order, id)
	}
	return nil
}

func (q *MemoryEventQueue) Due(_ context.Context, now time.Time, limit int) ([]QueuedEvent, error) {
	if q == nil {
		return nil, fmt.Errorf("core: event queue is not configured")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedEvent, 0, len(q.order))
	for _, id := range q.order {
		event := q.items[id]
		if !event.NextAttemptAt.IsZero() && event.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Requeue replaces the stored entry and moves it to the tail of the log.
func (q *MemoryEventQueue) Requeue(_ context.Context, event QueuedEvent) error {
	if q == nil {
		return fmt.Errorf("core: event queue is not configured")
	}
	id := strings.TrimSpace(event.Event.ID)
	if id == "" {
		return fmt.Errorf("core: queued event id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(id)
	q.items[id] = event
	q.order = append(q.order, id)
	return nil
}

func (q *MemoryEventQueue) Remove(_ context.Context, eventID string) error {
	if q == nil {
		return fmt.Errorf("core: event queue is not configured")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(strings.TrimSpace(eventID))
	return nil
}

func (q *MemoryEventQueue) Contains(_ context.Context, eventID string) (bool, error) {
	if q == nil {
		return false, fmt.Errorf("core: event queue is not configured")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[strings.TrimSpace(eventID)]
	return ok, nil
}

func (q *MemoryEventQueue) Oldest(_ context.Context) (QueuedEvent, bool, error) {
	if q == nil {
		return QueuedEvent{}, false, fmt.Errorf("core: event queue is not configured")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return QueuedEvent{}, false, nil
	}
	return q.items[q.order[0]], true, nil
}

func (q *MemoryEventQueue) Len(_ context.Context) (int, error) {
	if q == nil {
		return 0, fmt.Errorf("core: event queue is not configured")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order), nil
}

func (q *MemoryEventQueue) Clear(_ context.Context) error {
	if q == nil {
		return fmt.Errorf("core: event queue is not configured")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.order = nil
	q.items = map[string]QueuedEvent{}
	return nil
}

func (q *MemoryEventQueue) removeLocked(id string) {
	if _, ok := q.items[id]; !ok {
		return
	}
	delete(q.items, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	order   []string
	letters map[string]DeadLetter
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{letters: map[string]DeadLetter{}}
}

func (s *MemoryDeadLetterStore) Put(_ context.Context, letter DeadLetter) error {
	if s == nil {
		return fmt.Errorf("core: dead letter store is not configured")
	}
	letter.ID = strings.TrimSpace(letter.ID)
	if letter.ID == "" {
		letter.ID = strings.TrimSpace(letter.Event.ID)
	}
	if letter.ID == "" {
		return fmt.Errorf("core: dead letter id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.letters[letter.ID]; !exists {
		s.order = append(s.order, letter.ID)
	}
	s.letters[letter.ID] = letter
	return nil
}

func (s *MemoryDeadLetterStore) List(_ context.Context) ([]DeadLetter, error) {
	if s == nil {
		return nil, fmt.Errorf("core: dead letter store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetter, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.letters[id])
	}
	return out, nil
}

func (s *MemoryDeadLetterStore) Get(_ context.Context, id string) (DeadLetter, error) {
	if s == nil {
		return DeadLetter{}, fmt.Errorf("core: dead letter store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	letter, ok := s.letters[strings.TrimSpace(id)]
	if !ok {
		return DeadLetter{}, NotFoundError("dead letter not found", map[string]any{"id": id})
	}
	return letter, nil
}

func (s *MemoryDeadLetterStore) Delete(_ context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("core: dead letter store is not configured")
	}
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.letters[id]; !ok {
		return nil
	}
	delete(s.letters, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

type MemoryCursorStore struct {
	mu     sync.RWMutex
	cursor string
}

func NewMemoryCursorStore(initial string) *MemoryCursorStore {
	return &MemoryCursorStore{cursor: strings.TrimSpace(initial)}
}

func (s *MemoryCursorStore) Load(context.Context) (string, error) {
	if s == nil {
		return "", fmt.Errorf("core: cursor store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, nil
}

func (s *MemoryCursorStore) Save(_ context.Context, cursor string) error {
	if s == nil {
		return fmt.Errorf("core: cursor store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = strings.TrimSpace(cursor)
	return nil
}

var (
	_ EventQueue      = (*MemoryEventQueue)(nil)
	_ DeadLetterStore = (*MemoryDeadLetterStore)(nil)
	_ CursorStore     = (*MemoryCursorStore)(nil)
)

package entities

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-crmsync/core"
)

// Store persists local records of one kind.
type Store[T any] interface {
	Get(ctx context.Context, localID string) (T, error)
	FindByRemoteID(ctx context.Context, remoteID string) (T, bool, error)
	List(ctx context.Context) ([]T, error)
	Save(ctx context.Context, record T) error
	Delete(ctx context.Context, localID string) error
}

type ClientStore interface {
	Store[core.Client]
	FindByEmail(ctx context.Context, email string) (core.Client, bool, error)
	FindByPhone(ctx context.Context, phone string) (core.Client, bool, error)
}

type QuoteStore interface {
	Store[core.Quote]
	// ListByClient returns the client's quotes oldest first.
	ListByClient(ctx context.Context, clientID string) ([]core.Quote, error)
}

type TaskStore interface {
	Store[core.Task]
	FindBySourceRef(ctx context.Context, ref string) (core.Task, bool, error)
}

// MemoryStore keeps records in insertion order.
type MemoryStore[T any] struct {
	mu    sync.RWMutex
	kind  core.EntityKind
	state func(*T) *core.SyncState
	order []string
	items map[string]T
}

func newMemoryStore[T any](kind core.EntityKind, state func(*T) *core.SyncState) *MemoryStore[T] {
	return &MemoryStore[T]{kind: kind, state: state, items: map[string]T{}}
}

func (s *MemoryStore[T]) Get(_ context.Context, localID string) (T, error) {
	var zero T
	if s == nil {
		return zero, fmt.Errorf("entities: %s store is not configured", s.kindName())
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.items[strings.TrimSpace(localID)]
	if !ok {
		return zero, core.NotFoundError(string(s.kind)+" not found", map[string]any{"local_id": localID})
	}
	return record, nil
}

func (s *MemoryStore[T]) FindByRemoteID(_ context.Context, remoteID string) (T, bool, error) {
	remoteID = strings.TrimSpace(remoteID)
	return s.find(func(record *T) bool {
		return remoteID != "" && s.state(record).RemoteID == remoteID
	})
}

func (s *MemoryStore[T]) List(context.Context) ([]T, error) {
	if s == nil {
		return nil, fmt.Errorf("entities: store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out, nil
}

func (s *MemoryStore[T]) Save(_ context.Context, record T) error {
	if s == nil {
		return fmt.Errorf("entities: store is not configured")
	}
	id := strings.TrimSpace(s.state(&record).LocalID)
	if id == "" {
		return core.BadInputError(string(s.kind)+" local id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if remoteID := strings.TrimSpace(s.state(&record).RemoteID); remoteID != "" {
		for existingID, existing := range s.items {
			if existingID != id && s.state(&existing).RemoteID == remoteID {
				return core.BindingError(id, "", remoteID)
			}
		}
	}
	if _, exists := s.items[id]; !exists {
		s.order = append(s.order, id)
	}
	s.items[id] = record
	return nil
}

func (s *MemoryStore[T]) Delete(_ context.Context, localID string) error {
	if s == nil {
		return fmt.Errorf("entities: store is not configured")
	}
	localID = strings.TrimSpace(localID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[localID]; !ok {
		return nil
	}
	delete(s.items, localID)
	for i, id := range s.order {
		if id == localID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore[T]) find(match func(*T) bool) (T, bool, error) {
	var zero T
	if s == nil {
		return zero, false, fmt.Errorf("entities: store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		record := s.items[id]
		if match(&record) {
			return record, true, nil
		}
	}
	return zero, false, nil
}

func (s *MemoryStore[T]) kindName() string {
	if s == nil {
		return "entity"
	}
	return string(s.kind)
}

type MemoryClientStore struct {
	*MemoryStore[core.Client]
}

func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{newMemoryStore(core.EntityClient, func(c *core.Client) *core.SyncState { return &c.SyncState })}
}

func (s *MemoryClientStore) FindByEmail(_ context.Context, email string) (core.Client, bool, error) {
	email = NormalizeEmail(email)
	return s.find(func(c *core.Client) bool {
		return email != "" && NormalizeEmail(c.Email) == email
	})
}

func (s *MemoryClientStore) FindByPhone(_ context.Context, phone string) (core.Client, bool, error) {
	phone = NormalizePhone(phone)
	return s.find(func(c *core.Client) bool {
		return phone != "" && NormalizePhone(c.Phone) == phone
	})
}

type MemoryQuoteStore struct {
	*MemoryStore[core.Quote]
}

func NewMemoryQuoteStore() *MemoryQuoteStore {
	return &MemoryQuoteStore{newMemoryStore(core.EntityQuote, func(q *core.Quote) *core.SyncState { return &q.SyncState })}
}

func (s *MemoryQuoteStore) ListByClient(ctx context.Context, clientID string) ([]core.Quote, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	clientID = strings.TrimSpace(clientID)
	out := make([]core.Quote, 0, len(all))
	for _, quote := range all {
		if quote.ClientID == clientID {
			out = append(out, quote)
		}
	}
	sortQuotesOldestFirst(out)
	return out, nil
}

type MemoryTaskStore struct {
	*MemoryStore[core.Task]
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{newMemoryStore(core.EntityTask, func(t *core.Task) *core.SyncState { return &t.SyncState })}
}

func (s *MemoryTaskStore) FindBySourceRef(_ context.Context, ref string) (core.Task, bool, error) {
	ref = strings.TrimSpace(ref)
	return s.find(func(t *core.Task) bool {
		return ref != "" && t.SourceRef == ref
	})
}

// sortQuotesOldestFirst orders by quote date; undated quotes keep their position at the front.
func sortQuotesOldestFirst(quotes []core.Quote) {
	sort.SliceStable(quotes, func(i, j int) bool {
		a, b := quotes[i].QuoteDate, quotes[j].QuoteDate
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
}

// NormalizeEmail is the lookup key stores use for client emails.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits and a leading plus.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || (r == '+' && b.Len() == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	_ ClientStore = (*MemoryClientStore)(nil)
	_ QuoteStore  = (*MemoryQuoteStore)(nil)
	_ TaskStore   = (*MemoryTaskStore)(nil)
)

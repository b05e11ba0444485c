package outbound

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-crmsync/core"
)

// MemoryRequestStore keeps queued and failed requests in enqueue order.
type MemoryRequestStore struct {
	mu    sync.Mutex
	order []string
	items map[string]core.OutboundRequest
}

func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{items: map[string]core.OutboundRequest{}}
}

func (s *MemoryRequestStore) Append(_ context.Context, req core.OutboundRequest) error {
	if s == nil {
		return fmt.Errorf("outbound: request store is not configured")
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return fmt.Errorf("outbound: request id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[req.ID]; !exists {
		s.order = append(s.order, req.ID)
	}
	s.items[req.ID] = req
	return nil
}

func (s *MemoryRequestStore) Pending(context.Context) ([]core.OutboundRequest, error) {
	return s.filter(core.RequestStatusQueued)
}

func (s *MemoryRequestStore) Failed(context.Context) ([]core.OutboundRequest, error) {
	return s.filter(core.RequestStatusFailed)
}

func (s *MemoryRequestStore) Update(_ context.Context, req core.OutboundRequest) error {
	if s == nil {
		return fmt.Errorf("outbound: request store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[req.ID]; !ok {
		return core.NotFoundError("outbound request not found", map[string]any{"request_id": req.ID})
	}
	s.items[req.ID] = req
	return nil
}

func (s *MemoryRequestStore) Remove(_ context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("outbound: request store is not configured")
	}
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return nil
	}
	delete(s.items, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len counts requests still waiting to be sent.
func (s *MemoryRequestStore) Len(ctx context.Context) (int, error) {
	pending, err := s.Pending(ctx)
	return len(pending), err
}

func (s *MemoryRequestStore) Clear(context.Context) error {
	if s == nil {
		return fmt.Errorf("outbound: request store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.items = map[string]core.OutboundRequest{}
	return nil
}

func (s *MemoryRequestStore) filter(status core.RequestStatus) ([]core.OutboundRequest, error) {
	if s == nil {
		return nil, fmt.Errorf("outbound: request store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.OutboundRequest, 0, len(s.order))
	for _, id := range s.order {
		if req := s.items[id]; req.Status == status {
			out = append(out, req)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

var _ core.RequestStore = (*MemoryRequestStore)(nil)

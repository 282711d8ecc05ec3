package report

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe report Store for testing and
// development.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[uuid.UUID][]*Report
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[uuid.UUID][]*Report)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.UserID] = append(s.reports[r.UserID], r)
	return nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(_ context.Context, userID, id uuid.UUID) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reports[userID] {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

// ListByUser implements Store.
func (s *MemoryStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reports[userID], nil
}

package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store and BatchStore
// implementation. It is primarily useful for testing and for single-process
// deployments that do not require durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	chains  map[uuid.UUID][]*Entry
	batches map[uuid.UUID][]*Batch
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains:  make(map[uuid.UUID][]*Entry),
		batches: make(map[uuid.UUID][]*Batch),
	}
}

// AppendEntry implements Store.
func (s *MemoryStore) AppendEntry(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[e.UserID]
	headHash := GenesisHash
	if len(chain) > 0 {
		headHash = chain[len(chain)-1].Hash
	}
	if e.PrevHash != headHash {
		return ErrHeadConflict
	}

	e.Seq = int64(len(chain)) + 1
	e.CreatedAt = time.Now().UTC()
	s.chains[e.UserID] = append(chain, e)
	return nil
}

// Head implements Store.
func (s *MemoryStore) Head(_ context.Context, userID uuid.UUID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[userID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

// Entries implements Store.
func (s *MemoryStore) Entries(_ context.Context, userID uuid.UUID, rng *SeqRange) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.chains[userID] {
		if rng != nil {
			if e.Seq < rng.From {
				continue
			}
			if rng.To > 0 && e.Seq > rng.To {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// EntryBySeq implements Store.
func (s *MemoryStore) EntryBySeq(_ context.Context, userID uuid.UUID, seq int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.chains[userID] {
		if e.Seq == seq {
			return e, nil
		}
	}
	return nil, nil
}

// EntryByHash implements Store.
func (s *MemoryStore) EntryByHash(_ context.Context, userID uuid.UUID, hash string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.chains[userID] {
		if e.Hash == hash {
			return e, nil
		}
	}
	return nil, nil
}

// LatestByTrip implements Store.
func (s *MemoryStore) LatestByTrip(_ context.Context, userID, tripID uuid.UUID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[userID]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].TripID == tripID {
			return chain[i], nil
		}
	}
	return nil, nil
}

// CurrentEntries implements Store.
func (s *MemoryStore) CurrentEntries(_ context.Context, userID uuid.UUID) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[uuid.UUID]*Entry)
	for _, e := range s.chains[userID] {
		latest[e.TripID] = e // chain order, later entries win
	}
	var out []*Entry
	for _, e := range s.chains[userID] {
		if latest[e.TripID] == e {
			out = append(out, e)
		}
	}
	return out, nil
}

// EntriesByBatch implements Store.
func (s *MemoryStore) EntriesByBatch(_ context.Context, userID, batchID uuid.UUID) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.chains[userID] {
		if e.BatchID != nil && *e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

// CountByBatch implements Store.
func (s *MemoryStore) CountByBatch(ctx context.Context, userID, batchID uuid.UUID) (int, error) {
	entries, err := s.EntriesByBatch(ctx, userID, batchID)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// RecordBatch implements BatchStore.
func (s *MemoryStore) RecordBatch(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.CreatedAt = time.Now().UTC()
	s.batches[b.UserID] = append(s.batches[b.UserID], b)
	return nil
}

// BatchByID implements BatchStore.
func (s *MemoryStore) BatchByID(_ context.Context, userID, batchID uuid.UUID) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches[userID] {
		if b.BatchID == batchID {
			return b, nil
		}
	}
	return nil, nil
}

// BatchesByUser implements BatchStore.
func (s *MemoryStore) BatchesByUser(_ context.Context, userID uuid.UUID) ([]*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches[userID], nil
}

package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps records in memory, for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Stream][]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Stream][]Record)}
}

// Append stores rec in its stream.
func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Stream] = append(s.records[rec.Stream], rec)
	return nil
}

// List returns up to limit most recent records of stream, newest last.
// limit <= 0 returns the full stream.
func (s *MemoryStore) List(_ context.Context, stream Stream, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[stream]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]Record, len(recs))
	copy(out, recs)
	return out, nil
}

// Len reports the record count of one stream.
func (s *MemoryStore) Len(stream Stream) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[stream])
}

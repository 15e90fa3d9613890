package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process RunStore used by tests and by service mode
// when no database is configured. Records vanish on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	runs []RunRecord
}

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert adds a completed run record
func (s *MemoryStore) Insert(_ context.Context, rec RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run record requires a run_id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, rec)
	return nil
}

// Latest returns the most recent run, or nil when none exist
func (s *MemoryStore) Latest(_ context.Context) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return nil, nil
	}
	rec := s.runs[len(s.runs)-1]
	return &rec, nil
}

// List retrieves the most recent runs, newest first
func (s *MemoryStore) List(_ context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(limit, func(RunRecord) bool { return true }), nil
}

// ListByDataset retrieves runs for one dataset digest, newest first
func (s *MemoryStore) ListByDataset(_ context.Context, dataset string, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(limit, func(r RunRecord) bool { return r.Dataset == dataset }), nil
}

func (s *MemoryStore) newestFirst(limit int, match func(RunRecord) bool) []RunRecord {
	if limit <= 0 {
		limit = 100
	}
	out := make([]RunRecord, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if match(s.runs[i]) {
			out = append(out, s.runs[i])
		}
	}
	return out
}

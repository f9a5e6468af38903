package orders

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps records in a map. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Create(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.AssetID]; exists {
		return fmt.Errorf("%w: asset %s", ErrExists, rec.AssetID)
	}
	s.records[rec.AssetID] = rec
	return nil
}

func (s *MemoryStore) Get(assetID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[assetID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Update(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.AssetID]; !exists {
		return fmt.Errorf("%w: asset %s", ErrNotFound, rec.AssetID)
	}
	s.records[rec.AssetID] = rec
	return nil
}

func (s *MemoryStore) Delete(assetID string) error {
	s.mu.Lock()
	delete(s.records, assetID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ExistsNonTerminal(assetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[assetID]
	return ok && rec.Status.NonTerminal(), nil
}

// All returns records ordered by asset id
func (s *MemoryStore) All() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

package store

import (
	"context"
	"slices"
	"sync"

	"github.com/Snapchat/aws-support-tickets-aggregator/cases"
)

// MemoryStore implements the Gateway with an in-process map.
// It backs tests and local dry runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]cases.Case
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]cases.Case)}
}

// UpsertIfNewer applies cases.Decide under the store lock.
func (s *MemoryStore) UpsertIfNewer(ctx context.Context, c cases.Case) (cases.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored *cases.Case
	if existing, ok := s.items[c.Key]; ok {
		stored = &existing
	}
	outcome := cases.Decide(stored, c)
	if outcome != cases.Skipped {
		s.items[c.Key] = c
	}
	return outcome, nil
}

// Get returns a copy of the stored case, or nil.
func (s *MemoryStore) Get(ctx context.Context, key string) (*cases.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// Keys returns the stored keys in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of stored cases.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

var _ ReadWriter = (*MemoryStore)(nil)

package app

import (
	"context"
	"sync"
)

// Store persists user-created tiles keyed by their identifier.
type Store interface {
	Load(ctx context.Context) (map[string]App, error)
	Save(ctx context.Context, apps map[string]App) error
}

// MemoryStore implements Store in memory, suitable for tests and ephemeral runs.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]App
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied tiles.
func NewMemoryStore(items ...App) *MemoryStore {
	store := &MemoryStore{items: make(map[string]App, len(items))}
	for _, item := range items {
		store.items[item.ID] = item
	}
	return store
}

// Load returns a copy of the stored tiles.
func (s *MemoryStore) Load(_ context.Context) (map[string]App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]App, len(s.items))
	for id, item := range s.items {
		out[id] = item
	}
	return out, nil
}

// Save replaces the stored tiles.
func (s *MemoryStore) Save(_ context.Context, apps map[string]App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]App, len(apps))
	for id, item := range apps {
		s.items[id] = item
	}
	return nil
}

package layoutstore

import (
	"context"
	"sync"

	"github.com/matthewbaird/schemacanvas/internal/types"
)

// MemoryStore implements Store with in-memory maps.
// Intended for demos and testing.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]map[string]types.Position
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]map[string]types.Position)}
}

func (s *MemoryStore) Load(_ context.Context, projectID string) (map[string]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.Position, len(s.projects[projectID]))
	for id, p := range s.projects[projectID] {
		out[id] = p
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, projectID, modelID string, pos types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.projects[projectID]
	if !ok {
		m = make(map[string]types.Position)
		s.projects[projectID] = m
	}
	m[modelID] = pos
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, projectID, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects[projectID], modelID)
	return nil
}

func (s *MemoryStore) Rekey(_ context.Context, projectID, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.projects[projectID]
	if p, ok := m[oldID]; ok {
		delete(m, oldID)
		m[newID] = p
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

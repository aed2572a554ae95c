package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/entitymesh/entitymesh/internal/models"
)

// MemoryStore is an in-memory SessionStore for development and testing.
// Sessions are deep-copied on the way in and out so callers can never
// mutate stored state except through CompareAndSwapSave.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
	}
}

// Load retrieves a deep copy of the session.
func (m *MemoryStore) Load(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s.Clone(), nil
}

// CompareAndSwapSave persists the session if the stored version still
// matches expectedVersion.
func (m *MemoryStore) CompareAndSwapSave(_ context.Context, sessionID string, expectedVersion int64, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.sessions[sessionID]
	switch {
	case !exists && expectedVersion != 0:
		return fmt.Errorf("%w: session %s no longer exists (expected version %d)", ErrVersionConflict, sessionID, expectedVersion)
	case exists && current.StateVersion != expectedVersion:
		return fmt.Errorf("%w: session %s is at version %d, not %d", ErrVersionConflict, sessionID, current.StateVersion, expectedVersion)
	}

	m.sessions[sessionID] = session.Clone()
	return nil
}

// Delete evicts a session.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(m.sessions, sessionID)
	return nil
}

// ListSessionIDs returns all session IDs in lexical order.
func (m *MemoryStore) ListSessionIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

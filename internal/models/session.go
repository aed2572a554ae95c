package models

import "time"

// Session is the unit of isolation: a versioned, insertion-ordered
// collection of entities keyed by an externally supplied session ID.
// Deleting all entities empties the collection but the session itself
// persists until the store evicts it.
type Session struct {
	SessionID    string    `json:"session_id"`
	Entities     []Entity  `json:"entities"`
	StateVersion int64     `json:"state_version"`
	LastUpdated  time.Time `json:"last_updated"`
	Metadata     Metadata  `json:"metadata,omitempty"`
}

// NewSession creates an empty session at version 1.
func NewSession(sessionID string, now time.Time) *Session {
	return &Session{
		SessionID:    sessionID,
		StateVersion: 1,
		LastUpdated:  now,
	}
}

// Clone returns a deep copy of the session. Callers mutate the copy and
// write it back with a compare-and-swap; the stored session is never
// mutated in place.
func (s *Session) Clone() *Session {
	out := *s
	if s.Entities != nil {
		out.Entities = make([]Entity, len(s.Entities))
		for i := range s.Entities {
			out.Entities[i] = s.Entities[i].Clone()
		}
	}
	out.Metadata = s.Metadata.Clone()
	return &out
}

// FindEntity returns the index of the entity with the given ID,
// or -1 if the session does not hold it.
func (s *Session) FindEntity(entityID string) int {
	for i := range s.Entities {
		if s.Entities[i].EntityID == entityID {
			return i
		}
	}
	return -1
}

// RemoveEntity deletes the entity with the given ID, preserving the
// insertion order of the remainder. It reports whether an entity was removed.
// The entity's attributes go with it: an attribute cannot outlive its parent.
func (s *Session) RemoveEntity(entityID string) bool {
	idx := s.FindEntity(entityID)
	if idx < 0 {
		return false
	}
	s.Entities = append(s.Entities[:idx], s.Entities[idx+1:]...)
	return true
}

// CountByType returns the number of entities per entity type.
func (s *Session) CountByType() map[string]int64 {
	counts := make(map[string]int64)
	for i := range s.Entities {
		counts[string(s.Entities[i].EntityType)]++
	}
	return counts
}

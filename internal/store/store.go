package store

import (
	"context"
	"errors"

	"github.com/entitymesh/entitymesh/internal/models"
)

// ErrSessionNotFound is returned by Load and Delete when the session ID is
// unknown to the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrVersionConflict is returned by CompareAndSwapSave when the stored
// session version no longer matches the version the caller based its
// mutation on. The caller retries the whole read-mutate-write cycle.
var ErrVersionConflict = errors.New("session version conflict")

// SessionStore defines the interface for session persistence.
//
// The store must provide session-level serializability: a save succeeds only
// if the stored state version still equals expectedVersion, so two concurrent
// mutations against the same session cannot silently overwrite each other's
// version increment. Sessions with different IDs are fully independent.
type SessionStore interface {
	// Load retrieves a session snapshot by ID. The returned session is a
	// private copy the caller may mutate freely.
	Load(ctx context.Context, sessionID string) (*models.Session, error)

	// CompareAndSwapSave persists the session if the stored version still
	// equals expectedVersion. expectedVersion 0 means "the session must not
	// exist yet" and creates it.
	CompareAndSwapSave(ctx context.Context, sessionID string, expectedVersion int64, session *models.Session) error

	// Delete evicts a session entirely. Used by lifecycle eviction, never
	// by the CRUD engine (delete-all empties a session but keeps it).
	Delete(ctx context.Context, sessionID string) error

	// ListSessionIDs returns the IDs of all stored sessions.
	ListSessionIDs(ctx context.Context) ([]string, error)

	// Close cleans up resources.
	Close() error
}

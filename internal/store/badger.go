package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/entitymesh/entitymesh/internal/models"
)

// sessionKeyPrefix namespaces session records inside the badger keyspace.
const sessionKeyPrefix = "session/"

// BadgerStore is a persistent SessionStore backed by an embedded BadgerDB.
// Each session is stored as a single JSON document; the compare-and-swap is
// enforced by re-reading the stored version inside the write transaction,
// which badger runs with serializable snapshot isolation.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Path is the directory for the database files. Ignored when InMemory.
	Path string

	// InMemory keeps all data in RAM. Useful for tests.
	InMemory bool

	// SyncWrites makes each commit durable before returning.
	SyncWrites bool
}

// NewBadgerStore opens (or creates) a badger-backed store.
func NewBadgerStore(opts BadgerOptions, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %q: %w", opts.Path, err)
	}

	return &BadgerStore{db: db, logger: logger}, nil
}

func sessionKey(sessionID string) []byte {
	return []byte(sessionKeyPrefix + sessionID)
}

// Load retrieves a session by ID.
func (b *BadgerStore) Load(_ context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &session)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	return &session, nil
}

// CompareAndSwapSave persists the session if the stored version still
// matches expectedVersion.
func (b *BadgerStore) CompareAndSwapSave(_ context.Context, sessionID string, expectedVersion int64, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sessionID, err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		item, getErr := txn.Get(sessionKey(sessionID))
		switch {
		case errors.Is(getErr, badger.ErrKeyNotFound):
			if expectedVersion != 0 {
				return fmt.Errorf("%w: session %s no longer exists (expected version %d)", ErrVersionConflict, sessionID, expectedVersion)
			}
		case getErr != nil:
			return getErr
		default:
			var stored struct {
				StateVersion int64 `json:"state_version"`
			}
			if valErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); valErr != nil {
				return valErr
			}
			if stored.StateVersion != expectedVersion {
				return fmt.Errorf("%w: session %s is at version %d, not %d", ErrVersionConflict, sessionID, stored.StateVersion, expectedVersion)
			}
		}
		return txn.Set(sessionKey(sessionID), data)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			// Two transactions raced on the same key; surface as a
			// version conflict so the engine retries.
			return fmt.Errorf("%w: session %s: %s", ErrVersionConflict, sessionID, err)
		}
		return err
	}
	return nil
}

// Delete evicts a session.
func (b *BadgerStore) Delete(_ context.Context, sessionID string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, getErr := txn.Get(sessionKey(sessionID)); getErr != nil {
			return getErr
		}
		return txn.Delete(sessionKey(sessionID))
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}

// ListSessionIDs returns the IDs of all stored sessions in key order.
func (b *BadgerStore) ListSessionIDs(_ context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(sessionKeyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return ids, nil
}

// Close closes the underlying database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

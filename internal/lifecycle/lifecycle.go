package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/entitymesh/entitymesh/internal/clock"
	"github.com/entitymesh/entitymesh/internal/metrics"
	"github.com/entitymesh/entitymesh/internal/store"
)

// DefaultMaxSessionAge is how long an untouched session survives before
// eviction.
const DefaultMaxSessionAge = 24 * time.Hour

// Report summarizes the results of an eviction run.
type Report struct {
	Scanned int `json:"scanned"`
	Evicted int `json:"evicted"`
}

// Manager evicts sessions that have not been updated recently. The CRUD
// engine never destroys a session; eviction is the store-side lifecycle
// the core delegates to.
type Manager struct {
	store  store.SessionStore
	clock  clock.Provider
	logger *slog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(st store.SessionStore, clk clock.Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		clock:  clk,
		logger: logger,
	}
}

// Run evicts every session whose LastUpdated is older than maxAge.
// With dryRun set it only reports what would be evicted.
func (m *Manager) Run(ctx context.Context, maxAge time.Duration, dryRun bool) (*Report, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxSessionAge
	}
	cutoff := m.clock.Now().Add(-maxAge)

	ids, err := m.store.ListSessionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	report := &Report{Scanned: len(ids)}
	for _, id := range ids {
		session, loadErr := m.store.Load(ctx, id)
		if loadErr != nil {
			m.logger.Error("eviction: loading session", "session_id", id, "error", loadErr)
			continue
		}
		if !session.LastUpdated.Before(cutoff) {
			continue
		}
		m.logger.Info("evicting expired session",
			"session_id", id,
			"last_updated", session.LastUpdated,
			"entities", len(session.Entities))
		if !dryRun {
			if delErr := m.store.Delete(ctx, id); delErr != nil {
				m.logger.Error("eviction: deleting session", "session_id", id, "error", delErr)
				continue
			}
			metrics.Inc(metrics.SessionsEvicted)
		}
		report.Evicted++
	}

	return report, nil
}

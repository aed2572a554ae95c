package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entitymesh/entitymesh/internal/clock"
	"github.com/entitymesh/entitymesh/internal/config"
	"github.com/entitymesh/entitymesh/internal/engine"
	"github.com/entitymesh/entitymesh/internal/extract"
	"github.com/entitymesh/entitymesh/internal/intent"
	"github.com/entitymesh/entitymesh/internal/router"
	"github.com/entitymesh/entitymesh/internal/store"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "entitymesh",
		Short: "EntityMesh — versioned entity store with intent-routed commands",
		Long:  "EntityMesh maintains per-session collections of typed entities with multi-level optimistic versioning, and routes natural-language instructions to extraction, read, update, and delete operations.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		routeCmd(),
		readCmd(),
		updateCmd(),
		deleteCmd(),
		sessionsCmd(),
		relateCmd(),
		statsCmd(),
		serveCmd(),
		mcpCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newStore(logger *slog.Logger) (store.SessionStore, error) {
	if cfg.Store.Backend == config.BackendBadger {
		return store.NewBadgerStore(store.BadgerOptions{
			Path:       cfg.Store.Path,
			SyncWrites: cfg.Store.SyncWrites,
		}, logger)
	}
	return store.NewMemoryStore(), nil
}

func newExtractor(logger *slog.Logger) extract.Extractor {
	if cfg.Extractor.Kind == config.ExtractorClaude {
		return extract.NewClaudeExtractor(cfg.Claude.APIKey, cfg.Claude.Model, logger)
	}
	return extract.NewRuleExtractor(logger)
}

// newRouter assembles the full pipeline: store, engine, classifier,
// extractor, and router.
func newRouter(logger *slog.Logger) (*router.Router, *engine.Engine, store.SessionStore, error) {
	st, err := newStore(logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}

	clk := clock.NewSystemProvider()
	eng := engine.New(st, clk, logger, cfg.Engine.MaxRetries)
	rt := router.New(eng, newExtractor(logger), intent.NewClassifier(logger), clk, logger)
	return rt, eng, st, nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}

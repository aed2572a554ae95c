package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/entitymesh/entitymesh/internal/clock"
	"github.com/entitymesh/entitymesh/internal/lifecycle"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage sessions",
	}
	cmd.AddCommand(sessionsListCmd(), sessionsEvictCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all session IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("sessions list: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			ids, err := st.ListSessionIDs(cmd.Context())
			if err != nil {
				return fmt.Errorf("sessions list: %w", err)
			}

			for _, id := range ids {
				session, loadErr := st.Load(cmd.Context(), id)
				if loadErr != nil {
					fmt.Printf("%s  (unreadable: %v)\n", id, loadErr)
					continue
				}
				fmt.Printf("%s  v%-4d %3d entities  updated %s\n",
					id, session.StateVersion, len(session.Entities),
					session.LastUpdated.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func sessionsEvictCmd() *cobra.Command {
	var (
		maxAge time.Duration
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Evict sessions that have not been updated recently",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("sessions evict: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			lm := lifecycle.NewManager(st, clock.NewSystemProvider(), logger)
			report, err := lm.Run(cmd.Context(), maxAge, dryRun)
			if err != nil {
				return fmt.Errorf("sessions evict: %w", err)
			}

			fmt.Printf("Eviction report:\n")
			fmt.Printf("  Scanned:  %d\n", report.Scanned)
			fmt.Printf("  Evicted:  %d\n", report.Evicted)
			if dryRun {
				fmt.Println("  (dry run — no changes applied)")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", lifecycle.DefaultMaxSessionAge, "evict sessions untouched for longer than this")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview evictions without applying")
	return cmd
}

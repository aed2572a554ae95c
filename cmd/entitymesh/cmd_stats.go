package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show session statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("stats: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			session, err := st.Load(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("stats: loading session: %w", err)
			}

			fmt.Printf("Session:       %s\n", session.SessionID)
			fmt.Printf("State version: %d\n", session.StateVersion)
			fmt.Printf("Entities:      %d\n", len(session.Entities))
			fmt.Printf("Last updated:  %s\n", session.LastUpdated)

			byType := session.CountByType()
			types := make([]string, 0, len(byType))
			for t := range byType {
				types = append(types, t)
			}
			sort.Strings(types)
			if len(types) > 0 {
				fmt.Println("By type:")
				for _, t := range types {
					fmt.Printf("  %-18s %d\n", t, byType[t])
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "session ID to inspect")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entitymesh/entitymesh/internal/engine"
	"github.com/entitymesh/entitymesh/internal/relate"
)

func relateCmd() *cobra.Command {
	var (
		sessionID string
		apply     bool
	)

	cmd := &cobra.Command{
		Use:   "relate",
		Short: "Detect relationships between entities in a session",
		Long: `Scans a session's entities for structural relationships: shared attribute
names, metrics or insights derived from fields, and source-field dependencies.
With --apply, the detected relationships are written back to the entities.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			_, eng, st, err := newRouter(logger)
			if err != nil {
				return fmt.Errorf("relate: %w", err)
			}
			defer func() { _ = st.Close() }()

			read := eng.Read(cmd.Context(), engine.ReadRequest{SessionID: sessionID})
			if !read.Success {
				return fmt.Errorf("relate: %s", read.Message)
			}

			detected := relate.NewDetector(logger).Detect(read.Entities)
			if len(detected) == 0 {
				fmt.Println("No relationships detected")
				return nil
			}

			for entityID, rels := range detected {
				fmt.Printf("%s:\n", entityID)
				for relation, target := range rels {
					fmt.Printf("  %s -> %s\n", relation, target)
				}
			}

			if !apply {
				return nil
			}
			for entityID, rels := range detected {
				resp := eng.Update(cmd.Context(), engine.UpdateRequest{
					SessionID:     sessionID,
					EntityID:      entityID,
					EntityUpdates: &engine.EntityPatch{Relationships: rels},
				})
				if !resp.Success {
					return fmt.Errorf("relate: applying to %s: %s", entityID, resp.Message)
				}
			}
			fmt.Printf("Applied relationships to %d entities\n", len(detected))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "session ID to analyze")
	cmd.Flags().BoolVar(&apply, "apply", false, "write detected relationships back to the entities")
	return cmd
}

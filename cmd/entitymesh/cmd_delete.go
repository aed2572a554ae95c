package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entitymesh/entitymesh/internal/engine"
)

func deleteCmd() *cobra.Command {
	var (
		sessionID    string
		entityID     string
		attributeIDs []string
		deleteAll    bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete entities or attributes from a session",
		Long: `Deletes by exactly one selector, in priority order:
  --all          delete every entity in the session
  --entity       delete one entity and all its attributes
  --attributes   delete individual attributes by ID`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			_, eng, st, err := newRouter(logger)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer func() { _ = st.Close() }()

			resp := eng.Delete(cmd.Context(), engine.DeleteRequest{
				SessionID:    sessionID,
				EntityID:     entityID,
				AttributeIDs: attributeIDs,
				DeleteAll:    deleteAll,
			})
			if !resp.Success {
				return fmt.Errorf("delete: %s", resp.Message)
			}

			fmt.Printf("Deleted %d entities, %d attributes (session v%d)\n",
				len(resp.DeletedEntities), len(resp.DeletedAttributes), resp.StateVersion)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "session ID to operate on")
	cmd.Flags().StringVar(&entityID, "entity", "", "delete this entity")
	cmd.Flags().StringSliceVar(&attributeIDs, "attributes", nil, "delete these attribute IDs")
	cmd.Flags().BoolVar(&deleteAll, "all", false, "delete every entity in the session")
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/entitymesh/entitymesh/internal/engine"
	"github.com/entitymesh/entitymesh/internal/models"
)

func readCmd() *cobra.Command {
	var (
		sessionID    string
		entityID     string
		entityType   string
		stateVersion int64
		noAttributes bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read entities from a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			_, eng, st, err := newRouter(logger)
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			defer func() { _ = st.Close() }()

			req := engine.ReadRequest{
				SessionID:         sessionID,
				EntityID:          entityID,
				EntityType:        models.EntityType(entityType),
				StateVersion:      stateVersion,
				IncludeAttributes: !noAttributes,
			}
			if req.EntityType != "" && !req.EntityType.IsValid() {
				return fmt.Errorf("read: invalid entity type %q", entityType)
			}

			resp := eng.Read(cmd.Context(), req)
			if !resp.Success {
				return fmt.Errorf("read: %s", resp.Message)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			fmt.Printf("Session %s (version %d): %d entities\n\n", sessionID, resp.StateVersion, resp.TotalCount)
			for i := range resp.Entities {
				e := &resp.Entities[i]
				fmt.Printf("%s  [%s] v%d  %s\n", e.EntityID, e.EntityType, e.StateVersion, truncate(e.EntityName, 50))
				for j := range e.Attributes {
					a := &e.Attributes[j]
					fmt.Printf("    %s  %s (%.2f)\n", a.AttributeID, truncate(a.AttributeName, 40), a.Confidence)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "session ID to read from")
	cmd.Flags().StringVar(&entityID, "entity", "", "return only this entity")
	cmd.Flags().StringVarP(&entityType, "type", "t", "", "return only entities of this type")
	cmd.Flags().Int64Var(&stateVersion, "state-version", 0, "return only entities at or below this version (0 = all)")
	cmd.Flags().BoolVar(&noAttributes, "no-attributes", false, "omit attributes from the output")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entitymesh/entitymesh/internal/engine"
	"github.com/entitymesh/entitymesh/internal/models"
)

func updateCmd() *cobra.Command {
	var (
		sessionID   string
		entityName  string
		entityType  string
		entityValue string
		description string
		confidence  float64
	)

	cmd := &cobra.Command{
		Use:   "update [entity-id]",
		Short: "Create or update an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			_, eng, st, err := newRouter(logger)
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			defer func() { _ = st.Close() }()

			patch := &engine.EntityPatch{}
			if cmd.Flags().Changed("name") {
				patch.EntityName = &entityName
			}
			if cmd.Flags().Changed("type") {
				candidate := models.EntityType(entityType)
				if !candidate.IsValid() {
					return fmt.Errorf("update: invalid entity type %q", entityType)
				}
				patch.EntityType = &candidate
			}
			if cmd.Flags().Changed("value") {
				patch.EntityValue = &entityValue
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			if cmd.Flags().Changed("confidence") {
				if confidence < 0 || confidence > 1 {
					return fmt.Errorf("update: confidence must be between 0.0 and 1.0")
				}
				patch.Confidence = &confidence
			}

			resp := eng.Update(cmd.Context(), engine.UpdateRequest{
				SessionID:     sessionID,
				EntityID:      args[0],
				EntityUpdates: patch,
			})
			if !resp.Success {
				return fmt.Errorf("update: %s", resp.Message)
			}

			fmt.Printf("Updated entity %s (entity v%d, session v%d)\n",
				args[0], resp.UpdatedEntity.StateVersion, resp.StateVersion)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "session ID to operate on")
	cmd.Flags().StringVar(&entityName, "name", "", "entity name")
	cmd.Flags().StringVarP(&entityType, "type", "t", "", "entity type")
	cmd.Flags().StringVar(&entityValue, "value", "", "entity value")
	cmd.Flags().StringVar(&description, "description", "", "entity description")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "confidence score 0.0-1.0")
	return cmd
}

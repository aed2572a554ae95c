package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/entitymesh/entitymesh/internal/router"
)

func routeCmd() *cobra.Command {
	var (
		sessionID    string
		entityID     string
		attributeIDs []string
		fieldsJSON   string
	)

	cmd := &cobra.Command{
		Use:   "route [message]",
		Short: "Route a natural-language message through the command pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			rt, _, st, err := newRouter(logger)
			if err != nil {
				return fmt.Errorf("route: %w", err)
			}
			defer func() { _ = st.Close() }()

			req := router.Request{
				SessionID:    sessionID,
				Message:      args[0],
				EntityID:     entityID,
				AttributeIDs: attributeIDs,
			}
			if fieldsJSON != "" {
				if err := json.Unmarshal([]byte(fieldsJSON), &req.Fields); err != nil {
					return fmt.Errorf("route: parsing --fields: %w", err)
				}
			}

			resp := rt.Route(cmd.Context(), req)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("route: encoding response: %w", err)
			}
			if !resp.Success {
				return fmt.Errorf("route: %s", resp.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "session ID to operate on")
	cmd.Flags().StringVar(&entityID, "entity", "", "scope the operation to this entity ID")
	cmd.Flags().StringSliceVar(&attributeIDs, "attributes", nil, "scope the operation to these attribute IDs")
	cmd.Flags().StringVar(&fieldsJSON, "fields", "", "JSON array of data fields for extraction")
	return cmd
}

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	meshmcp "github.com/entitymesh/entitymesh/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  route_message   — route a natural-language instruction to an entity operation
  read_entities   — read entities with filters
  update_entity   — create or update an entity
  delete_entities — delete entities or attributes by selector
  session_stats   — per-session statistics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			rt, eng, st, err := newRouter(logger)
			if err != nil {
				// Log to stderr and continue with nil dependencies.
				// Tool calls will return per-call errors rather than crashing.
				logger.Error("mcp: failed to assemble pipeline; tool calls requiring storage will fail",
					"error", err)
			} else {
				defer func() { _ = st.Close() }()
			}

			srv := meshmcp.NewServer(eng, rt, st, logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: entitymesh MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}

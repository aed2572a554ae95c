// Package mcp implements the Model Context Protocol server for entitymesh.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/entitymesh/entitymesh/internal/engine"
	"github.com/entitymesh/entitymesh/internal/models"
	"github.com/entitymesh/entitymesh/internal/router"
	"github.com/entitymesh/entitymesh/internal/store"
)

// Server wraps an MCPServer with entitymesh dependencies.
type Server struct {
	mcp    *mcpserver.MCPServer
	eng    *engine.Engine
	rt     *router.Router
	st     store.SessionStore
	logger *slog.Logger
}

// NewServer creates a new MCP server. If eng, rt, or st are nil,
// the corresponding tool calls will return an error response instead of panicking.
func NewServer(eng *engine.Engine, rt *router.Router, st store.SessionStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		eng:    eng,
		rt:     rt,
		st:     st,
		logger: logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"entitymesh",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildRouteTool(), s.handleRoute)
	mcpSrv.AddTool(buildReadTool(), s.handleRead)
	mcpSrv.AddTool(buildUpdateTool(), s.handleUpdate)
	mcpSrv.AddTool(buildDeleteTool(), s.handleDelete)
	mcpSrv.AddTool(buildStatsTool(), s.handleStats)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleRoute is the exported handler for the "route_message" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleRoute(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleRoute(ctx, req)
}

// HandleRead is the exported handler for the "read_entities" tool.
func (s *Server) HandleRead(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleRead(ctx, req)
}

// HandleUpdate is the exported handler for the "update_entity" tool.
func (s *Server) HandleUpdate(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleUpdate(ctx, req)
}

// HandleDelete is the exported handler for the "delete_entities" tool.
func (s *Server) HandleDelete(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleDelete(ctx, req)
}

// HandleStats is the exported handler for the "session_stats" tool.
func (s *Server) HandleStats(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStats(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// --- tool definitions ---

func buildRouteTool() mcpgo.Tool {
	return mcpgo.NewTool("route_message",
		mcpgo.WithDescription("Route a natural-language message to the right entity operation: extraction, read, update, or delete. Returns a response envelope with the classified intent and operation result."),
		mcpgo.WithString("session_id",
			mcpgo.Required(),
			mcpgo.Description("The session to operate on"),
		),
		mcpgo.WithString("message",
			mcpgo.Required(),
			mcpgo.Description("The natural-language instruction to route"),
		),
		mcpgo.WithString("entity_id",
			mcpgo.Description("Optional entity ID to scope the operation to"),
		),
		mcpgo.WithString("attribute_ids",
			mcpgo.Description("Optional comma-separated attribute IDs to scope the operation to"),
		),
	)
}

func buildReadTool() mcpgo.Tool {
	return mcpgo.NewTool("read_entities",
		mcpgo.WithDescription("Read entities from a session, optionally filtered by entity ID, type, or a state version ceiling."),
		mcpgo.WithString("session_id",
			mcpgo.Required(),
			mcpgo.Description("The session to read from"),
		),
		mcpgo.WithString("entity_id",
			mcpgo.Description("Return only this entity"),
		),
		mcpgo.WithString("entity_type",
			mcpgo.Description("Return only entities of this type (e.g. field, column, business_metric)"),
		),
		mcpgo.WithNumber("state_version",
			mcpgo.Description("Return only entities at or below this state version (0 = no ceiling)"),
		),
	)
}

func buildUpdateTool() mcpgo.Tool {
	return mcpgo.NewTool("update_entity",
		mcpgo.WithDescription("Create or update an entity in a session. Missing entities are created; existing ones are patched."),
		mcpgo.WithString("session_id",
			mcpgo.Required(),
			mcpgo.Description("The session to operate on"),
		),
		mcpgo.WithString("entity_id",
			mcpgo.Required(),
			mcpgo.Description("The entity to create or update"),
		),
		mcpgo.WithString("entity_name",
			mcpgo.Description("Entity name (required when creating)"),
		),
		mcpgo.WithString("entity_type",
			mcpgo.Description("Entity type: field, segment, value, metadata, document, object, array, asset, column, business_metric, relationship, derived_insight, or operational_rule"),
		),
		mcpgo.WithString("entity_value",
			mcpgo.Description("Entity value (required when creating)"),
		),
		mcpgo.WithString("description",
			mcpgo.Description("Entity description"),
		),
		mcpgo.WithNumber("confidence",
			mcpgo.Description("Confidence score 0.0-1.0"),
		),
	)
}

func buildDeleteTool() mcpgo.Tool {
	return mcpgo.NewTool("delete_entities",
		mcpgo.WithDescription("Delete entities or attributes from a session. Exactly one selector is used: delete_all, entity_id, or attribute_ids."),
		mcpgo.WithString("session_id",
			mcpgo.Required(),
			mcpgo.Description("The session to operate on"),
		),
		mcpgo.WithString("entity_id",
			mcpgo.Description("Delete this entity and all its attributes"),
		),
		mcpgo.WithString("attribute_ids",
			mcpgo.Description("Comma-separated attribute IDs to delete"),
		),
		mcpgo.WithBoolean("delete_all",
			mcpgo.Description("Delete every entity in the session"),
		),
	)
}

func buildStatsTool() mcpgo.Tool {
	return mcpgo.NewTool("session_stats",
		mcpgo.WithDescription("Get session statistics: entity count, state version, and breakdown by entity type."),
		mcpgo.WithString("session_id",
			mcpgo.Required(),
			mcpgo.Description("The session to inspect"),
		),
	)
}

// --- tool handlers ---

// handleRoute classifies the message and dispatches the matching operation.
func (s *Server) handleRoute(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.rt == nil {
		return mcpgo.NewToolResultError("router is unavailable"), nil
	}

	sessionID := req.GetString("session_id", "")
	if strings.TrimSpace(sessionID) == "" {
		return mcpgo.NewToolResultError("session_id is required and must not be empty"), nil
	}
	message := req.GetString("message", "")
	if strings.TrimSpace(message) == "" {
		return mcpgo.NewToolResultError("message is required and must not be empty"), nil
	}

	routeReq := router.Request{
		SessionID:    sessionID,
		Message:      message,
		EntityID:     req.GetString("entity_id", ""),
		AttributeIDs: splitIDs(req.GetString("attribute_ids", "")),
	}

	resp := s.rt.Route(ctx, routeReq)
	s.logger.Info("mcp: routed message", "session_id", sessionID, "intent", resp.Intent, "success", resp.Success)
	return toolResultJSON(resp)
}

// handleRead reads entities with optional filters.
func (s *Server) handleRead(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.eng == nil {
		return mcpgo.NewToolResultError("engine is unavailable"), nil
	}

	sessionID := req.GetString("session_id", "")
	if strings.TrimSpace(sessionID) == "" {
		return mcpgo.NewToolResultError("session_id is required and must not be empty"), nil
	}

	readReq := engine.ReadRequest{
		SessionID:         sessionID,
		EntityID:          req.GetString("entity_id", ""),
		StateVersion:      int64(req.GetInt("state_version", 0)),
		IncludeAttributes: true,
	}
	if t := req.GetString("entity_type", ""); t != "" {
		candidate := models.EntityType(t)
		if !candidate.IsValid() {
			return mcpgo.NewToolResultErrorf("invalid entity_type %q", t), nil
		}
		readReq.EntityType = candidate
	}

	resp := s.eng.Read(ctx, readReq)
	return toolResultJSON(resp)
}

// handleUpdate applies create-or-update semantics to one entity.
func (s *Server) handleUpdate(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.eng == nil {
		return mcpgo.NewToolResultError("engine is unavailable"), nil
	}

	sessionID := req.GetString("session_id", "")
	if strings.TrimSpace(sessionID) == "" {
		return mcpgo.NewToolResultError("session_id is required and must not be empty"), nil
	}
	entityID := req.GetString("entity_id", "")
	if strings.TrimSpace(entityID) == "" {
		return mcpgo.NewToolResultError("entity_id is required and must not be empty"), nil
	}

	patch := &engine.EntityPatch{}
	if v := req.GetString("entity_name", ""); v != "" {
		patch.EntityName = &v
	}
	if v := req.GetString("entity_type", ""); v != "" {
		candidate := models.EntityType(v)
		if !candidate.IsValid() {
			return mcpgo.NewToolResultErrorf("invalid entity_type %q", v), nil
		}
		patch.EntityType = &candidate
	}
	if v := req.GetString("entity_value", ""); v != "" {
		patch.EntityValue = &v
	}
	if v := req.GetString("description", ""); v != "" {
		patch.Description = &v
	}
	if c := req.GetFloat("confidence", -1); c >= 0 {
		if c > 1.0 {
			return mcpgo.NewToolResultError("confidence must be between 0.0 and 1.0"), nil
		}
		patch.Confidence = &c
	}

	resp := s.eng.Update(ctx, engine.UpdateRequest{
		SessionID:     sessionID,
		EntityID:      entityID,
		EntityUpdates: patch,
	})
	if resp.Success {
		s.logger.Info("mcp: updated entity", "session_id", sessionID, "entity_id", entityID, "state_version", resp.StateVersion)
	}
	return toolResultJSON(resp)
}

// handleDelete deletes entities or attributes by selector.
func (s *Server) handleDelete(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.eng == nil {
		return mcpgo.NewToolResultError("engine is unavailable"), nil
	}

	sessionID := req.GetString("session_id", "")
	if strings.TrimSpace(sessionID) == "" {
		return mcpgo.NewToolResultError("session_id is required and must not be empty"), nil
	}

	delReq := engine.DeleteRequest{
		SessionID:    sessionID,
		EntityID:     req.GetString("entity_id", ""),
		AttributeIDs: splitIDs(req.GetString("attribute_ids", "")),
		DeleteAll:    req.GetBool("delete_all", false),
	}

	resp := s.eng.Delete(ctx, delReq)
	if resp.Success {
		s.logger.Info("mcp: deleted", "session_id", sessionID,
			"entities", len(resp.DeletedEntities), "attributes", len(resp.DeletedAttributes))
	}
	return toolResultJSON(resp)
}

// handleStats returns statistics for one session.
func (s *Server) handleStats(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	sessionID := req.GetString("session_id", "")
	if strings.TrimSpace(sessionID) == "" {
		return mcpgo.NewToolResultError("session_id is required and must not be empty"), nil
	}

	session, err := s.st.Load(ctx, sessionID)
	if err != nil {
		return mcpgo.NewToolResultErrorf("loading session failed: %s", err.Error()), nil
	}

	result := map[string]any{
		"session_id":    session.SessionID,
		"state_version": session.StateVersion,
		"total":         len(session.Entities),
		"by_type":       session.CountByType(),
		"last_updated":  session.LastUpdated,
	}
	return toolResultJSON(result)
}

// splitIDs parses a comma-separated ID list, dropping empty elements.
func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

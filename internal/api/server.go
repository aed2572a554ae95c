package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/entitymesh/entitymesh/internal/engine"
	"github.com/entitymesh/entitymesh/internal/models"
	"github.com/entitymesh/entitymesh/internal/router"
	"github.com/entitymesh/entitymesh/internal/store"
)

// Server is an HTTP API server that exposes entity operations.
type Server struct {
	engine    *engine.Engine
	router    *router.Router
	store     store.SessionStore
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(eng *engine.Engine, rt *router.Router, st store.SessionStore, logger *slog.Logger, authToken string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    eng,
		router:    rt,
		store:     st,
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check — no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// Conversational routing and entity CRUD — wrapped with auth middleware.
	mux.HandleFunc("POST /v1/route", s.auth(s.handleRoute))
	mux.HandleFunc("GET /v1/sessions/{id}/entities", s.auth(s.handleReadEntities))
	mux.HandleFunc("PUT /v1/sessions/{id}/entities/{entity_id}", s.auth(s.handleUpdateEntity))
	mux.HandleFunc("DELETE /v1/sessions/{id}/entities", s.auth(s.handleDeleteEntities))
	mux.HandleFunc("GET /v1/stats", s.auth(s.handleStats))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRoute runs a full conversational request through the command router.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req router.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	resp := s.router.Route(r.Context(), req)
	s.writeJSON(w, http.StatusOK, resp)
}

// handleReadEntities reads entities with optional filters from query params.
func (s *Server) handleReadEntities(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	q := r.URL.Query()
	req := engine.ReadRequest{
		SessionID:         sessionID,
		EntityID:          q.Get("entity_id"),
		EntityType:        models.EntityType(q.Get("entity_type")),
		IncludeAttributes: q.Get("include_attributes") != "false",
	}
	if req.EntityType != "" && !req.EntityType.IsValid() {
		s.writeError(w, http.StatusBadRequest, "invalid entity_type")
		return
	}
	if raw := q.Get("state_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid state_version")
			return
		}
		req.StateVersion = v
	}

	resp := s.engine.Read(r.Context(), req)
	if !resp.Success {
		s.writeJSON(w, http.StatusNotFound, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// updateEntityBody is the body accepted by PUT .../entities/{entity_id}.
type updateEntityBody struct {
	EntityUpdates    *engine.EntityPatch     `json:"entity_updates,omitempty"`
	AttributeUpdates []engine.AttributePatch `json:"attribute_updates,omitempty"`
}

// handleUpdateEntity applies create-or-update semantics to one entity.
func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	entityID := r.PathValue("entity_id")
	if sessionID == "" || entityID == "" {
		s.writeError(w, http.StatusBadRequest, "session id and entity id are required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var body updateEntityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp := s.engine.Update(r.Context(), engine.UpdateRequest{
		SessionID:        sessionID,
		EntityID:         entityID,
		EntityUpdates:    body.EntityUpdates,
		AttributeUpdates: body.AttributeUpdates,
	})
	if !resp.Success {
		s.writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDeleteEntities deletes entities or attributes selected by query
// params: delete_all, entity_id, or attribute_ids (comma-separated).
func (s *Server) handleDeleteEntities(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	q := r.URL.Query()
	req := engine.DeleteRequest{
		SessionID: sessionID,
		EntityID:  q.Get("entity_id"),
		DeleteAll: q.Get("delete_all") == "true",
	}
	if raw := q.Get("attribute_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.AttributeIDs = append(req.AttributeIDs, id)
			}
		}
	}

	resp := s.engine.Delete(r.Context(), req)
	if !resp.Success {
		s.writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// statsResponse is returned by GET /v1/stats.
type statsResponse struct {
	TotalSessions int              `json:"total_sessions"`
	TotalEntities int64            `json:"total_entities"`
	ByType        map[string]int64 `json:"by_type"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListSessionIDs(r.Context())
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	stats := statsResponse{
		TotalSessions: len(ids),
		ByType:        make(map[string]int64),
	}
	for _, id := range ids {
		session, loadErr := s.store.Load(r.Context(), id)
		if loadErr != nil {
			s.logger.Warn("stats: loading session", "session_id", id, "error", loadErr)
			continue
		}
		stats.TotalEntities += int64(len(session.Entities))
		for t, n := range session.CountByType() {
			stats.ByType[t] += n
		}
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// --- helpers ---

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Package engine implements the CRUD operations over session entity state.
//
// Every mutating operation runs a read-mutate-write cycle against the
// session store: load a snapshot, apply the whole request to a private
// copy, then compare-and-swap the result. A version conflict restarts the
// cycle, so callers never observe a session with only part of a request
// applied.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/entitymesh/entitymesh/internal/clock"
	"github.com/entitymesh/entitymesh/internal/metrics"
	"github.com/entitymesh/entitymesh/internal/models"
	"github.com/entitymesh/entitymesh/internal/store"
	"github.com/entitymesh/entitymesh/internal/version"
)

// DefaultMaxRetries bounds how many times a mutation is retried after a
// version conflict before the failure is surfaced to the caller.
const DefaultMaxRetries = 3

// Engine executes read/update/delete operations against sessions.
type Engine struct {
	store      store.SessionStore
	clock      clock.Provider
	logger     *slog.Logger
	maxRetries int
}

// New creates an Engine. maxRetries <= 0 falls back to DefaultMaxRetries.
func New(st store.SessionStore, clk clock.Provider, logger *slog.Logger, maxRetries int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Engine{
		store:      st,
		clock:      clk,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Read returns entities from a session with optional filtering. It never
// mutates stored state; stripping attributes applies to the returned copies
// only. A missing session is the only failure; an unknown entity ID simply
// yields an empty result.
func (e *Engine) Read(ctx context.Context, req ReadRequest) ReadResponse {
	metrics.Inc(metrics.ReadTotal)

	session, err := e.store.Load(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return ReadResponse{
				Entities: []models.Entity{},
				Success:  false,
				Message:  fmt.Sprintf("Session %s not found", req.SessionID),
			}
		}
		e.logger.Error("read: loading session", "session_id", req.SessionID, "error", err)
		return ReadResponse{
			Entities: []models.Entity{},
			Success:  false,
			Message:  fmt.Sprintf("Error reading entities: %s", err),
		}
	}

	entities := make([]models.Entity, 0, len(session.Entities))
	for i := range session.Entities {
		ent := session.Entities[i]
		if req.EntityID != "" {
			if ent.EntityID != req.EntityID {
				continue
			}
		} else if req.EntityType != "" && ent.EntityType != req.EntityType {
			continue
		}
		if req.StateVersion > 0 && ent.StateVersion > req.StateVersion {
			continue
		}
		if !req.IncludeAttributes {
			ent.Attributes = []models.Attribute{}
		}
		entities = append(entities, ent)
	}

	e.logger.Debug("read entities", "session_id", req.SessionID, "count", len(entities))

	return ReadResponse{
		Entities:     entities,
		StateVersion: session.StateVersion,
		TotalCount:   len(entities),
		Success:      true,
		Message:      fmt.Sprintf("Successfully retrieved %d entities", len(entities)),
	}
}

// Update applies an entity patch and a batch of attribute patches as one
// atomic operation. A session unseen before this call is created; an entity
// unknown to the session is created from the patch (create-or-update).
// The entity version and the session version each advance by exactly one,
// however many attributes the request touched.
func (e *Engine) Update(ctx context.Context, req UpdateRequest) UpdateResponse {
	metrics.Inc(metrics.UpdateTotal)

	if err := validateUpdate(req); err != nil {
		return UpdateResponse{Success: false, Message: err.Error()}
	}

	for attempt := 0; ; attempt++ {
		session, baseVersion, err := e.loadOrCreate(ctx, req.SessionID)
		if err != nil {
			e.logger.Error("update: loading session", "session_id", req.SessionID, "error", err)
			return UpdateResponse{Success: false, Message: fmt.Sprintf("Error updating entity: %s", err)}
		}

		entity, failures := e.applyUpdate(session, req)

		session.StateVersion = version.NextSessionVersion(session.StateVersion)
		session.LastUpdated = e.clock.Now()

		casErr := e.store.CompareAndSwapSave(ctx, req.SessionID, baseVersion, session)
		if casErr == nil {
			e.logger.Info("updated entity",
				"session_id", req.SessionID,
				"entity_id", entity.EntityID,
				"entity_version", entity.StateVersion,
				"session_version", session.StateVersion)
			return UpdateResponse{
				UpdatedEntity:    entity,
				StateVersion:     session.StateVersion,
				FailedAttributes: failures,
				Success:          true,
				Message:          fmt.Sprintf("Successfully updated entity %s", entity.EntityID),
			}
		}
		if errors.Is(casErr, store.ErrVersionConflict) && attempt < e.maxRetries {
			metrics.Inc(metrics.VersionConflictRetry)
			e.logger.Debug("update: version conflict, retrying",
				"session_id", req.SessionID, "attempt", attempt+1)
			continue
		}
		e.logger.Error("update: saving session", "session_id", req.SessionID, "error", casErr)
		return UpdateResponse{Success: false, Message: fmt.Sprintf("Failed to save session after update: %s", casErr)}
	}
}

// Delete removes entities or attributes. Selector priority: DeleteAll
// clears every entity; EntityID removes that entity and, cascading, all of
// its attributes; AttributeIDs removes each named attribute from whichever
// entity holds it. The session version advances by exactly one per call.
func (e *Engine) Delete(ctx context.Context, req DeleteRequest) DeleteResponse {
	metrics.Inc(metrics.DeleteTotal)

	if !req.DeleteAll && req.EntityID == "" && len(req.AttributeIDs) == 0 {
		err := validationErrorf("delete requires one of delete_all, entity_id, or attribute_ids")
		return DeleteResponse{
			DeletedEntities:   []string{},
			DeletedAttributes: []string{},
			Success:           false,
			Message:           err.Error(),
		}
	}

	for attempt := 0; ; attempt++ {
		session, err := e.store.Load(ctx, req.SessionID)
		if err != nil {
			msg := fmt.Sprintf("Error deleting entities: %s", err)
			if errors.Is(err, store.ErrSessionNotFound) {
				msg = fmt.Sprintf("Session %s not found", req.SessionID)
			} else {
				e.logger.Error("delete: loading session", "session_id", req.SessionID, "error", err)
			}
			return DeleteResponse{
				DeletedEntities:   []string{},
				DeletedAttributes: []string{},
				Success:           false,
				Message:           msg,
			}
		}
		baseVersion := session.StateVersion

		deletedEntities, deletedAttributes := e.applyDelete(session, req)

		session.StateVersion = version.NextSessionVersion(session.StateVersion)
		session.LastUpdated = e.clock.Now()

		casErr := e.store.CompareAndSwapSave(ctx, req.SessionID, baseVersion, session)
		if casErr == nil {
			e.logger.Info("deleted from session",
				"session_id", req.SessionID,
				"entities", len(deletedEntities),
				"attributes", len(deletedAttributes),
				"session_version", session.StateVersion)
			return DeleteResponse{
				DeletedEntities:   deletedEntities,
				DeletedAttributes: deletedAttributes,
				StateVersion:      session.StateVersion,
				Success:           true,
				Message: fmt.Sprintf("Successfully deleted %d entities and %d attributes",
					len(deletedEntities), len(deletedAttributes)),
			}
		}
		if errors.Is(casErr, store.ErrVersionConflict) && attempt < e.maxRetries {
			metrics.Inc(metrics.VersionConflictRetry)
			e.logger.Debug("delete: version conflict, retrying",
				"session_id", req.SessionID, "attempt", attempt+1)
			continue
		}
		e.logger.Error("delete: saving session", "session_id", req.SessionID, "error", casErr)
		return DeleteResponse{
			DeletedEntities:   []string{},
			DeletedAttributes: []string{},
			Success:           false,
			Message:           fmt.Sprintf("Failed to save session after deletion: %s", casErr),
		}
	}
}

// --- internals ---

// validateUpdate rejects structurally invalid requests before any mutation.
func validateUpdate(req UpdateRequest) error {
	if req.SessionID == "" {
		return validationErrorf("session_id is required")
	}
	if req.EntityID == "" {
		return validationErrorf("entity_id is required")
	}
	if req.EntityUpdates != nil {
		if req.EntityUpdates.EntityType != nil && !req.EntityUpdates.EntityType.IsValid() {
			return validationErrorf("invalid entity_type %q", *req.EntityUpdates.EntityType)
		}
		if c := req.EntityUpdates.Confidence; c != nil && (*c < 0 || *c > 1) {
			return validationErrorf("confidence %g out of range [0.0, 1.0]", *c)
		}
	}
	for i := range req.AttributeUpdates {
		p := &req.AttributeUpdates[i]
		if p.AttributeID == "" {
			if p.AttributeName == nil || *p.AttributeName == "" {
				return validationErrorf("attribute patch %d creates an attribute and requires attribute_name", i)
			}
			if p.AttributeValue == nil {
				return validationErrorf("attribute patch %d creates an attribute and requires attribute_value", i)
			}
		}
		if p.AttributeType != nil && !p.AttributeType.IsValid() {
			return validationErrorf("invalid attribute_type %q", *p.AttributeType)
		}
		if c := p.Confidence; c != nil && (*c < 0 || *c > 1) {
			return validationErrorf("attribute patch %d: confidence %g out of range [0.0, 1.0]", i, *c)
		}
	}
	return nil
}

// loadOrCreate returns the session and the version the subsequent
// compare-and-swap must be based on. A session unseen by the store is
// created fresh at version 1, with base version 0 ("must not exist yet").
func (e *Engine) loadOrCreate(ctx context.Context, sessionID string) (*models.Session, int64, error) {
	session, err := e.store.Load(ctx, sessionID)
	if err == nil {
		return session, session.StateVersion, nil
	}
	if errors.Is(err, store.ErrSessionNotFound) {
		return models.NewSession(sessionID, e.clock.Now()), 0, nil
	}
	return nil, 0, err
}

// applyUpdate mutates the in-memory session copy and returns the affected
// entity plus per-item attribute failures.
func (e *Engine) applyUpdate(session *models.Session, req UpdateRequest) (*models.Entity, []AttributeFailure) {
	now := e.clock.Now()

	idx := session.FindEntity(req.EntityID)
	created := idx < 0
	if created {
		session.Entities = append(session.Entities, models.Entity{
			EntityID:     req.EntityID,
			EntityType:   models.EntityTypeMetadata,
			EntityName:   req.EntityID,
			Confidence:   models.DefaultAttributeConfidence,
			CreatedAt:    now,
			UpdatedAt:    now,
			StateVersion: 1,
		})
		idx = len(session.Entities) - 1
		e.logger.Debug("creating entity on update", "session_id", session.SessionID, "entity_id", req.EntityID)
	}
	entity := &session.Entities[idx]

	if req.EntityUpdates != nil {
		applyEntityPatch(entity, req.EntityUpdates)
	}

	var failures []AttributeFailure
	for i := range req.AttributeUpdates {
		p := &req.AttributeUpdates[i]
		if p.AttributeID == "" {
			entity.Attributes = append(entity.Attributes, e.newAttribute(p, now))
			continue
		}
		attrIdx := entity.FindAttribute(p.AttributeID)
		if attrIdx < 0 {
			failures = append(failures, AttributeFailure{
				AttributeID: p.AttributeID,
				Reason:      "attribute not found",
			})
			continue
		}
		applyAttributePatch(&entity.Attributes[attrIdx], p, now)
	}

	entity.UpdatedAt = now
	if !created {
		entity.StateVersion = version.NextEntityVersion(entity.StateVersion)
	}
	return entity, failures
}

// newAttribute builds an attribute from a create-style patch. Validation
// has already guaranteed name and value are present.
func (e *Engine) newAttribute(p *AttributePatch, now time.Time) models.Attribute {
	attr := models.Attribute{
		AttributeID:    e.clock.NewID("attr"),
		AttributeName:  *p.AttributeName,
		AttributeValue: p.AttributeValue.Clone(),
		AttributeType:  models.KindString,
		Confidence:     models.DefaultAttributeConfidence,
		Metadata:       p.Metadata.Clone(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.AttributeType != nil {
		attr.AttributeType = *p.AttributeType
	}
	if p.Confidence != nil {
		attr.Confidence = *p.Confidence
	}
	if p.SourceField != nil {
		attr.SourceField = *p.SourceField
	}
	if p.Description != nil {
		attr.Description = *p.Description
	}
	return attr
}

func applyEntityPatch(entity *models.Entity, patch *EntityPatch) {
	if patch.EntityType != nil {
		entity.EntityType = *patch.EntityType
	}
	if patch.EntityName != nil {
		entity.EntityName = *patch.EntityName
	}
	if patch.EntityValue != nil {
		entity.EntityValue = *patch.EntityValue
	}
	if patch.Description != nil {
		entity.Description = *patch.Description
	}
	if patch.Confidence != nil {
		entity.Confidence = *patch.Confidence
	}
	if patch.SourceField != nil {
		entity.SourceField = *patch.SourceField
	}
	if patch.Relationships != nil {
		rels := make(map[string]string, len(patch.Relationships))
		for k, v := range patch.Relationships {
			rels[k] = v
		}
		entity.Relationships = rels
	}
	if patch.Metadata != nil {
		entity.Metadata = patch.Metadata.Clone()
	}
}

func applyAttributePatch(attr *models.Attribute, p *AttributePatch, now time.Time) {
	if p.AttributeName != nil {
		attr.AttributeName = *p.AttributeName
	}
	if p.AttributeValue != nil {
		attr.AttributeValue = p.AttributeValue.Clone()
	}
	if p.AttributeType != nil {
		attr.AttributeType = *p.AttributeType
	}
	if p.Confidence != nil {
		attr.Confidence = *p.Confidence
	}
	if p.SourceField != nil {
		attr.SourceField = *p.SourceField
	}
	if p.Description != nil {
		attr.Description = *p.Description
	}
	if p.Metadata != nil {
		attr.Metadata = p.Metadata.Clone()
	}
	attr.UpdatedAt = now
}

// applyDelete mutates the in-memory session copy per the selector priority
// and returns what was removed.
func (e *Engine) applyDelete(session *models.Session, req DeleteRequest) ([]string, []string) {
	deletedEntities := []string{}
	deletedAttributes := []string{}
	now := e.clock.Now()

	switch {
	case req.DeleteAll:
		for i := range session.Entities {
			deletedEntities = append(deletedEntities, session.Entities[i].EntityID)
		}
		session.Entities = nil

	case req.EntityID != "":
		if session.RemoveEntity(req.EntityID) {
			deletedEntities = append(deletedEntities, req.EntityID)
		} else {
			e.logger.Warn("delete: entity not found", "session_id", session.SessionID, "entity_id", req.EntityID)
		}

	default:
		requested := make(map[string]bool, len(req.AttributeIDs))
		for _, id := range req.AttributeIDs {
			requested[id] = true
		}
		for i := range session.Entities {
			entity := &session.Entities[i]
			kept := entity.Attributes[:0]
			removed := 0
			for _, attr := range entity.Attributes {
				if requested[attr.AttributeID] {
					deletedAttributes = append(deletedAttributes, attr.AttributeID)
					removed++
					continue
				}
				kept = append(kept, attr)
			}
			if removed > 0 {
				entity.Attributes = kept
				entity.UpdatedAt = now
				entity.StateVersion = version.NextEntityVersion(entity.StateVersion)
			}
		}
	}

	return deletedEntities, deletedAttributes
}

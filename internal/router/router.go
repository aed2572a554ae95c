// Package router runs each request through the received -> classified ->
// dispatched -> responded pipeline. No state is retained across requests;
// every request runs the machine to completion synchronously.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/entitymesh/entitymesh/internal/clock"
	"github.com/entitymesh/entitymesh/internal/engine"
	"github.com/entitymesh/entitymesh/internal/extract"
	"github.com/entitymesh/entitymesh/internal/intent"
	"github.com/entitymesh/entitymesh/internal/metrics"
	"github.com/entitymesh/entitymesh/internal/models"
)

// Request is an inbound natural-language-derived command plus its
// structured hints.
type Request struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`

	// Structured hints. EntityID and AttributeIDs steer classification as
	// well as dispatch; Fields and Columns are the extraction payload.
	EntityID          string                  `json:"entity_id,omitempty"`
	EntityType        models.EntityType       `json:"entity_type,omitempty"`
	AttributeIDs      []string                `json:"attribute_ids,omitempty"`
	EntityUpdates     *engine.EntityPatch     `json:"entity_updates,omitempty"`
	AttributeUpdates  []engine.AttributePatch `json:"attribute_updates,omitempty"`
	DeleteAll         bool                    `json:"delete_all,omitempty"`
	StateVersion      int64                   `json:"state_version,omitempty"`
	IncludeAttributes bool                    `json:"include_attributes,omitempty"`
	Fields            []extract.DataField     `json:"selected_fields,omitempty"`
	Columns           []extract.DataColumn    `json:"selected_columns,omitempty"`
}

// Response is the uniform envelope assembled for every request, whichever
// branch executed.
type Response struct {
	Intent       intent.Intent `json:"intent"`
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	StateVersion int64         `json:"state_version"`

	EntitiesCreated int      `json:"entities_created"`
	EntityIDs       []string `json:"entity_ids,omitempty"`
	AttributeIDs    []string `json:"attribute_ids,omitempty"`

	Read   *engine.ReadResponse   `json:"read,omitempty"`
	Update *engine.UpdateResponse `json:"update,omitempty"`
	Delete *engine.DeleteResponse `json:"delete,omitempty"`
}

// Router classifies requests and dispatches them to the engine or the
// extraction collaborator.
type Router struct {
	engine     *engine.Engine
	extractor  extract.Extractor
	classifier intent.Classifier
	clock      clock.Provider
	logger     *slog.Logger
}

// New creates a Router.
func New(eng *engine.Engine, ext extract.Extractor, cls intent.Classifier, clk clock.Provider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		engine:     eng,
		extractor:  ext,
		classifier: cls,
		clock:      clk,
		logger:     logger,
	}
}

// Route runs one request through the full pipeline. Failures at any stage
// short-circuit to a success=false response; nothing escapes the router
// boundary.
func (r *Router) Route(ctx context.Context, req Request) Response {
	metrics.Inc(metrics.RouteTotal)

	if req.SessionID == "" {
		return Response{Success: false, Message: "session_id is required"}
	}

	// received -> classified
	hints := intent.Hints{
		HasEntityID:         req.EntityID != "",
		HasAttributeID:      len(req.AttributeIDs) > 0 || hasAttributeIDPatch(req.AttributeUpdates),
		HasExtractionFields: len(req.Fields) > 0 || len(req.Columns) > 0,
	}
	classified := r.classifier.Classify(req.Message, hints)

	r.logger.Info("routing request",
		"session_id", req.SessionID,
		"intent", classified,
		"message_len", len(req.Message))

	// classified -> dispatched -> responded
	switch classified {
	case intent.IntentExtract:
		return r.dispatchExtract(ctx, classified, req)
	case intent.IntentRead:
		return r.dispatchRead(ctx, classified, req)
	case intent.IntentUpdateEntity, intent.IntentUpdateAttribute:
		return r.dispatchUpdate(ctx, classified, req)
	case intent.IntentDeleteEntity, intent.IntentDeleteAttribute:
		return r.dispatchDelete(ctx, classified, req)
	default:
		return Response{
			Intent:  classified,
			Success: false,
			Message: fmt.Sprintf("no handler for intent %q", classified),
		}
	}
}

// dispatchExtract calls the extraction collaborator and folds each draft
// through the engine's create-or-update path. A collaborator failure or an
// empty draft set is a successful response with zero entities created.
func (r *Router) dispatchExtract(ctx context.Context, classified intent.Intent, req Request) Response {
	metrics.Inc(metrics.ExtractTotal)

	drafts, err := r.extractor.Extract(ctx, req.Fields, req.Columns, req.Message)
	if err != nil {
		r.logger.Warn("extraction collaborator failed", "session_id", req.SessionID, "error", err)
		return Response{
			Intent:  classified,
			Success: true,
			Message: "Extraction produced no entities",
		}
	}
	if len(drafts) == 0 {
		return Response{
			Intent:  classified,
			Success: true,
			Message: "Extraction produced no entities",
		}
	}

	resp := Response{Intent: classified}
	for i := range drafts {
		update := draftToUpdate(req.SessionID, r.clock.NewID("entity"), &drafts[i])
		result := r.engine.Update(ctx, update)
		if !result.Success {
			r.logger.Warn("folding draft into session failed",
				"session_id", req.SessionID,
				"entity_name", drafts[i].EntityName,
				"message", result.Message)
			continue
		}
		resp.EntitiesCreated++
		resp.EntityIDs = append(resp.EntityIDs, result.UpdatedEntity.EntityID)
		resp.StateVersion = result.StateVersion
	}

	resp.Success = true
	resp.Message = fmt.Sprintf("Successfully created %d entities", resp.EntitiesCreated)
	return resp
}

func (r *Router) dispatchRead(ctx context.Context, classified intent.Intent, req Request) Response {
	result := r.engine.Read(ctx, engine.ReadRequest{
		SessionID:         req.SessionID,
		EntityID:          req.EntityID,
		EntityType:        req.EntityType,
		StateVersion:      req.StateVersion,
		IncludeAttributes: req.IncludeAttributes,
	})

	resp := Response{
		Intent:       classified,
		Success:      result.Success,
		Message:      result.Message,
		StateVersion: result.StateVersion,
		Read:         &result,
	}
	for i := range result.Entities {
		resp.EntityIDs = append(resp.EntityIDs, result.Entities[i].EntityID)
	}
	return resp
}

func (r *Router) dispatchUpdate(ctx context.Context, classified intent.Intent, req Request) Response {
	entityID := req.EntityID
	if entityID == "" {
		// Create-or-update with no entity named creates a fresh entity.
		entityID = r.clock.NewID("entity")
	}

	result := r.engine.Update(ctx, engine.UpdateRequest{
		SessionID:        req.SessionID,
		EntityID:         entityID,
		EntityUpdates:    req.EntityUpdates,
		AttributeUpdates: req.AttributeUpdates,
	})

	resp := Response{
		Intent:       classified,
		Success:      result.Success,
		Message:      result.Message,
		StateVersion: result.StateVersion,
		Update:       &result,
	}
	if result.UpdatedEntity != nil {
		resp.EntityIDs = []string{result.UpdatedEntity.EntityID}
		for i := range result.UpdatedEntity.Attributes {
			resp.AttributeIDs = append(resp.AttributeIDs, result.UpdatedEntity.Attributes[i].AttributeID)
		}
	}
	return resp
}

func (r *Router) dispatchDelete(ctx context.Context, classified intent.Intent, req Request) Response {
	del := engine.DeleteRequest{
		SessionID: req.SessionID,
		DeleteAll: req.DeleteAll,
	}
	// Attribute-scoped deletes target attributes only; the entity survives.
	if classified == intent.IntentDeleteAttribute {
		del.AttributeIDs = req.AttributeIDs
	} else {
		del.EntityID = req.EntityID
	}

	result := r.engine.Delete(ctx, del)

	return Response{
		Intent:       classified,
		Success:      result.Success,
		Message:      result.Message,
		StateVersion: result.StateVersion,
		EntityIDs:    result.DeletedEntities,
		AttributeIDs: result.DeletedAttributes,
		Delete:       &result,
	}
}

// draftToUpdate converts an extraction draft into the engine request that
// creates the drafted entity with all of its attributes in one operation.
func draftToUpdate(sessionID, entityID string, d *extract.Draft) engine.UpdateRequest {
	entityType := d.EntityType
	name := d.EntityName
	value := d.EntityValue
	confidence := d.Confidence
	description := d.Description
	sourceField := d.SourceField

	patch := &engine.EntityPatch{
		EntityType:  &entityType,
		EntityName:  &name,
		EntityValue: &value,
		Confidence:  &confidence,
		Description: &description,
		SourceField: &sourceField,
	}

	attrs := make([]engine.AttributePatch, 0, len(d.Attributes))
	for i := range d.Attributes {
		a := d.Attributes[i]
		attrName := a.AttributeName
		attrValue := a.AttributeValue
		ap := engine.AttributePatch{
			AttributeName:  &attrName,
			AttributeValue: &attrValue,
		}
		if a.Confidence > 0 {
			conf := a.Confidence
			ap.Confidence = &conf
		}
		if a.Description != "" {
			desc := a.Description
			ap.Description = &desc
		}
		attrs = append(attrs, ap)
	}

	return engine.UpdateRequest{
		SessionID:        sessionID,
		EntityID:         entityID,
		EntityUpdates:    patch,
		AttributeUpdates: attrs,
	}
}

func hasAttributeIDPatch(patches []engine.AttributePatch) bool {
	for i := range patches {
		if patches[i].AttributeID != "" {
			return true
		}
	}
	return false
}

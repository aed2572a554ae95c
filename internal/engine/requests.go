package engine

import (
	"fmt"

	"github.com/entitymesh/entitymesh/internal/models"
)

// ValidationError marks a structurally invalid request. Validation runs
// before any mutation is applied, so a failed request never leaves a
// partial write behind.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ReadRequest selects entities from a session. All filters are optional;
// EntityID takes precedence over EntityType. StateVersion (when > 0) is a
// coarse point-in-time ceiling: only entities whose own state version is at
// or below it are returned. No prior attribute values are reconstructed.
type ReadRequest struct {
	SessionID         string            `json:"session_id"`
	EntityID          string            `json:"entity_id,omitempty"`
	EntityType        models.EntityType `json:"entity_type,omitempty"`
	StateVersion      int64             `json:"state_version,omitempty"`
	IncludeAttributes bool              `json:"include_attributes"`
}

// ReadResponse carries the matched entities and the session version the
// snapshot was read at.
type ReadResponse struct {
	Entities     []models.Entity `json:"entities"`
	StateVersion int64           `json:"state_version"`
	TotalCount   int             `json:"total_count"`
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
}

// EntityPatch updates entity fields. Nil fields are left unchanged.
// The entity ID itself is immutable.
type EntityPatch struct {
	EntityType    *models.EntityType `json:"entity_type,omitempty"`
	EntityName    *string            `json:"entity_name,omitempty"`
	EntityValue   *string            `json:"entity_value,omitempty"`
	Description   *string            `json:"description,omitempty"`
	Confidence    *float64           `json:"confidence,omitempty"`
	SourceField   *string            `json:"source_field,omitempty"`
	Relationships map[string]string  `json:"relationships,omitempty"`
	Metadata      models.Metadata    `json:"metadata,omitempty"`
}

// AttributePatch creates or updates one attribute. A patch without an
// AttributeID creates a new attribute and must carry at least a name and a
// value. A patch with an AttributeID updates that attribute field by field,
// leaving nil fields untouched.
type AttributePatch struct {
	AttributeID    string            `json:"attribute_id,omitempty"`
	AttributeName  *string           `json:"attribute_name,omitempty"`
	AttributeValue *models.Value     `json:"attribute_value,omitempty"`
	AttributeType  *models.ValueKind `json:"attribute_type,omitempty"`
	Confidence     *float64          `json:"confidence,omitempty"`
	SourceField    *string           `json:"source_field,omitempty"`
	Description    *string           `json:"description,omitempty"`
	Metadata       models.Metadata   `json:"metadata,omitempty"`
}

// UpdateRequest applies create-or-update semantics: if the session holds no
// entity with EntityID, one is created from the patch. The whole request is
// atomic with respect to the persisted session.
type UpdateRequest struct {
	SessionID        string           `json:"session_id"`
	EntityID         string           `json:"entity_id"`
	EntityUpdates    *EntityPatch     `json:"entity_updates,omitempty"`
	AttributeUpdates []AttributePatch `json:"attribute_updates,omitempty"`
}

// AttributeFailure reports a non-fatal per-item failure: a patch that named
// an attribute the entity does not hold.
type AttributeFailure struct {
	AttributeID string `json:"attribute_id"`
	Reason      string `json:"reason"`
}

// UpdateResponse carries the updated entity and the new session version.
type UpdateResponse struct {
	UpdatedEntity    *models.Entity     `json:"updated_entity,omitempty"`
	StateVersion     int64              `json:"state_version"`
	FailedAttributes []AttributeFailure `json:"failed_attributes,omitempty"`
	Success          bool               `json:"success"`
	Message          string             `json:"message"`
}

// DeleteRequest removes entities or attributes. Exactly one selector
// applies, in priority order: DeleteAll, then EntityID, then AttributeIDs.
// A request naming none of the three fails validation.
type DeleteRequest struct {
	SessionID    string   `json:"session_id"`
	EntityID     string   `json:"entity_id,omitempty"`
	AttributeIDs []string `json:"attribute_ids,omitempty"`
	DeleteAll    bool     `json:"delete_all,omitempty"`
}

// DeleteResponse lists what was removed and the new session version.
type DeleteResponse struct {
	DeletedEntities   []string `json:"deleted_entities"`
	DeletedAttributes []string `json:"deleted_attributes"`
	StateVersion      int64    `json:"state_version"`
	Success           bool     `json:"success"`
	Message           string   `json:"message"`
}

// Package extract produces entity drafts from selected data fields and
// columns, either via an LLM or a deterministic rule fallback.
package extract

import (
	"context"

	"github.com/entitymesh/entitymesh/internal/models"
)

// DataField describes one selected data-dictionary field attached to a
// request.
type DataField struct {
	FieldName   string   `json:"field_name"`
	Definition  string   `json:"definition,omitempty"`
	Description string   `json:"description,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	ValidValues []string `json:"valid_values,omitempty"`
}

// DataColumn describes one selected dataset column attached to a request.
type DataColumn struct {
	ColumnName  string `json:"column_name"`
	ColumnType  string `json:"column_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// AttributeDraft is one attribute proposed for a drafted entity.
type AttributeDraft struct {
	AttributeName  string       `json:"attribute_name"`
	AttributeValue models.Value `json:"attribute_value"`
	Confidence     float64      `json:"confidence,omitempty"`
	Description    string       `json:"description,omitempty"`
}

// Draft is one entity proposed by the extraction collaborator. Drafts are
// folded into the session through the engine's create-or-update path; the
// collaborator itself never touches stored state.
type Draft struct {
	EntityType  models.EntityType `json:"entity_type"`
	EntityName  string            `json:"entity_name"`
	EntityValue string            `json:"entity_value"`
	Confidence  float64           `json:"confidence"`
	Description string            `json:"description,omitempty"`
	SourceField string            `json:"source_field,omitempty"`
	Attributes  []AttributeDraft  `json:"attributes,omitempty"`
}

// Extractor identifies entity drafts in the attached data. It is opaque,
// potentially slow, and may fail or return zero drafts; the caller treats
// both the same way.
type Extractor interface {
	Extract(ctx context.Context, fields []DataField, columns []DataColumn, instruction string) ([]Draft, error)
}

package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/entitymesh/entitymesh/internal/models"
)

// ruleConfidence is assigned to drafts produced without model judgment.
const ruleConfidence = 0.6

// RuleExtractor is a deterministic fallback for deployments without an API
// key. It drafts one field entity per selected field and one column entity
// per selected column, carrying the source metadata as attributes.
type RuleExtractor struct {
	logger *slog.Logger
}

// NewRuleExtractor creates the rule-based fallback extractor.
func NewRuleExtractor(logger *slog.Logger) *RuleExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleExtractor{logger: logger}
}

// Extract drafts entities directly from the attached data. The instruction
// text is ignored; rules have no language understanding.
func (r *RuleExtractor) Extract(_ context.Context, fields []DataField, columns []DataColumn, _ string) ([]Draft, error) {
	drafts := make([]Draft, 0, len(fields)+len(columns))

	for i := range fields {
		f := &fields[i]
		draft := Draft{
			EntityType:  models.EntityTypeField,
			EntityName:  f.FieldName,
			EntityValue: f.Definition,
			Confidence:  ruleConfidence,
			Description: f.Description,
			SourceField: f.FieldName,
		}
		if len(f.ValidValues) > 0 {
			draft.Attributes = append(draft.Attributes, AttributeDraft{
				AttributeName:  "valid_values",
				AttributeValue: models.String(strings.Join(f.ValidValues, ", ")),
				Confidence:     ruleConfidence,
				Description:    "Allowed values recorded in the data dictionary",
			})
		}
		if f.Notes != "" {
			draft.Attributes = append(draft.Attributes, AttributeDraft{
				AttributeName:  "notes",
				AttributeValue: models.String(f.Notes),
				Confidence:     ruleConfidence,
			})
		}
		drafts = append(drafts, draft)
	}

	for i := range columns {
		c := &columns[i]
		draft := Draft{
			EntityType:  models.EntityTypeColumn,
			EntityName:  c.ColumnName,
			EntityValue: c.ColumnName,
			Confidence:  ruleConfidence,
			Description: c.Description,
			SourceField: c.ColumnName,
		}
		if c.ColumnType != "" {
			draft.Attributes = append(draft.Attributes, AttributeDraft{
				AttributeName:  "column_type",
				AttributeValue: models.String(c.ColumnType),
				Confidence:     ruleConfidence,
			})
		}
		drafts = append(drafts, draft)
	}

	r.logger.Info("rule extraction produced drafts", "count", len(drafts))
	return drafts, nil
}

// Package relate detects relationships between entities in a session.
//
// Detection is a deterministic pass over the current entities; it proposes
// weak references (entity IDs only) and never enforces their validity —
// a related entity may be deleted later and the reference left dangling.
package relate

import (
	"log/slog"
	"strings"

	"github.com/entitymesh/entitymesh/internal/models"
)

// Relation names produced by the detector.
const (
	RelationRelatesTo   = "relates_to"
	RelationDerivedFrom = "derived_from"
	RelationDependsOn   = "depends_on"
)

// Detector finds relationships between entities.
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// Detect returns proposed relationships per entity ID. Each entity maps a
// relation name to the ID of the first matching entity in session order, so
// detection over the same session is stable.
func (d *Detector) Detect(entities []models.Entity) map[string]map[string]string {
	result := make(map[string]map[string]string)
	if len(entities) < 2 {
		return result
	}

	for i := range entities {
		rels := make(map[string]string)
		for j := range entities {
			if i == j {
				continue
			}
			d.analyzePair(&entities[i], &entities[j], rels)
		}
		if len(rels) > 0 {
			result[entities[i].EntityID] = rels
		}
	}

	d.logger.Info("detected relationships", "entities", len(entities), "related", len(result))
	return result
}

// analyzePair adds relations from a to b into rels. Earlier matches win;
// a relation name already present is never overwritten.
func (d *Detector) analyzePair(a, b *models.Entity, rels map[string]string) {
	if _, ok := rels[RelationRelatesTo]; !ok && sharesAttributeName(a, b) {
		rels[RelationRelatesTo] = b.EntityID
	}
	if _, ok := rels[RelationDerivedFrom]; !ok && isDerivedFrom(a, b) {
		rels[RelationDerivedFrom] = b.EntityID
	}
	if _, ok := rels[RelationDependsOn]; !ok && dependsOn(a, b) {
		rels[RelationDependsOn] = b.EntityID
	}
}

// sharesAttributeName reports whether the two entities hold an attribute
// with the same name.
func sharesAttributeName(a, b *models.Entity) bool {
	if len(a.Attributes) == 0 || len(b.Attributes) == 0 {
		return false
	}
	names := make(map[string]bool, len(a.Attributes))
	for i := range a.Attributes {
		names[strings.ToLower(a.Attributes[i].AttributeName)] = true
	}
	for i := range b.Attributes {
		if names[strings.ToLower(b.Attributes[i].AttributeName)] {
			return true
		}
	}
	return false
}

// isDerivedFrom reports whether a's type is computed from b's type:
// metrics and insights derive from raw fields and columns.
func isDerivedFrom(a, b *models.Entity) bool {
	switch a.EntityType {
	case models.EntityTypeBusinessMetric, models.EntityTypeDerivedInsight:
		return b.EntityType == models.EntityTypeField || b.EntityType == models.EntityTypeColumn
	default:
		return false
	}
}

// dependsOn reports whether a's source field names b.
func dependsOn(a, b *models.Entity) bool {
	if a.SourceField == "" {
		return false
	}
	src := strings.ToLower(a.SourceField)
	return src == strings.ToLower(b.EntityName) || src == strings.ToLower(b.EntityID)
}

package models

import "time"

// EntityType classifies the kind of entity.
type EntityType string

const (
	EntityTypeField           EntityType = "field"
	EntityTypeSegment         EntityType = "segment"
	EntityTypeValue           EntityType = "value"
	EntityTypeMetadata        EntityType = "metadata"
	EntityTypeDocument        EntityType = "document"
	EntityTypeObject          EntityType = "object"
	EntityTypeArray           EntityType = "array"
	EntityTypeAsset           EntityType = "asset"
	EntityTypeColumn          EntityType = "column"
	EntityTypeBusinessMetric  EntityType = "business_metric"
	EntityTypeRelationship    EntityType = "relationship"
	EntityTypeDerivedInsight  EntityType = "derived_insight"
	EntityTypeOperationalRule EntityType = "operational_rule"
)

// ValidEntityTypes is the set of all valid entity types.
var ValidEntityTypes = []EntityType{
	EntityTypeField,
	EntityTypeSegment,
	EntityTypeValue,
	EntityTypeMetadata,
	EntityTypeDocument,
	EntityTypeObject,
	EntityTypeArray,
	EntityTypeAsset,
	EntityTypeColumn,
	EntityTypeBusinessMetric,
	EntityTypeRelationship,
	EntityTypeDerivedInsight,
	EntityTypeOperationalRule,
}

// IsValid returns true if the entity type is recognized.
func (et EntityType) IsValid() bool {
	for i := range ValidEntityTypes {
		if et == ValidEntityTypes[i] {
			return true
		}
	}
	return false
}

// Entity is a named business concept owned by a session. It carries its own
// state version, incremented exactly once per mutation that targets it.
// Relationships are weak references: they store entity IDs only and their
// validity is never enforced.
type Entity struct {
	EntityID      string            `json:"entity_id"`
	EntityType    EntityType        `json:"entity_type"`
	EntityName    string            `json:"entity_name"`
	EntityValue   string            `json:"entity_value"`
	Description   string            `json:"description,omitempty"`
	Confidence    float64           `json:"confidence"`
	SourceField   string            `json:"source_field,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty"`
	Attributes    []Attribute       `json:"attributes"`
	Metadata      Metadata          `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	StateVersion  int64             `json:"state_version"`
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	if e.Relationships != nil {
		rels := make(map[string]string, len(e.Relationships))
		for k, v := range e.Relationships {
			rels[k] = v
		}
		e.Relationships = rels
	}
	if e.Attributes != nil {
		attrs := make([]Attribute, len(e.Attributes))
		for i := range e.Attributes {
			attrs[i] = e.Attributes[i].Clone()
		}
		e.Attributes = attrs
	}
	e.Metadata = e.Metadata.Clone()
	return e
}

// FindAttribute returns the index of the attribute with the given ID,
// or -1 if the entity does not hold it.
func (e *Entity) FindAttribute(attributeID string) int {
	for i := range e.Attributes {
		if e.Attributes[i].AttributeID == attributeID {
			return i
		}
	}
	return -1
}

package models

import "time"

// DefaultAttributeConfidence is assigned to attributes created without an
// explicit confidence score.
const DefaultAttributeConfidence = 0.8

// Attribute is a typed key/value fact owned by exactly one entity. Its
// lifetime cannot exceed the parent entity's, and it carries no version
// counter of its own: any change to an attribute counts as a change to the
// parent entity.
type Attribute struct {
	AttributeID    string    `json:"attribute_id"`
	AttributeName  string    `json:"attribute_name"`
	AttributeValue Value     `json:"attribute_value"`
	AttributeType  ValueKind `json:"attribute_type"`
	Confidence     float64   `json:"confidence"`
	SourceField    string    `json:"source_field,omitempty"`
	Description    string    `json:"description,omitempty"`
	Metadata       Metadata  `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the attribute.
func (a Attribute) Clone() Attribute {
	a.AttributeValue = a.AttributeValue.Clone()
	a.Metadata = a.Metadata.Clone()
	return a
}

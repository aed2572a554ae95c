package models

import (
	"encoding/json"
	"fmt"
)

// ValueKind discriminates the closed set of attribute value types.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "boolean"
	KindObject ValueKind = "object"
)

// ValidValueKinds is the set of all valid value kinds.
var ValidValueKinds = []ValueKind{
	KindString,
	KindNumber,
	KindBool,
	KindObject,
}

// IsValid returns true if the value kind is recognized.
func (vk ValueKind) IsValid() bool {
	for i := range ValidValueKinds {
		if vk == ValidValueKinds[i] {
			return true
		}
	}
	return false
}

// Value is a tagged union over the four value types an attribute or
// metadata entry may hold. Exactly one payload field is meaningful,
// selected by Kind. The zero Value is the empty string.
type Value struct {
	Kind   ValueKind
	Str    string
	Num    float64
	Bool   bool
	Object map[string]Value
}

// String constructs a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number constructs a numeric Value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Bool constructs a boolean Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Object constructs a structured-object Value.
func Object(m map[string]Value) Value { return Value{Kind: KindObject, Object: m} }

// IsZero reports whether v is the zero Value.
func (v Value) IsZero() bool {
	return v.Kind == "" && v.Str == "" && v.Num == 0 && !v.Bool && v.Object == nil
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	if v.Object == nil {
		return v
	}
	obj := make(map[string]Value, len(v.Object))
	for k, inner := range v.Object {
		obj[k] = inner.Clone()
	}
	v.Object = obj
	return v
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == other.Num
	case KindBool:
		return v.Bool == other.Bool
	case KindObject:
		if len(v.Object) != len(other.Object) {
			return false
		}
		for k, inner := range v.Object {
			o, ok := other.Object[k]
			if !ok || !inner.Equal(o) {
				return false
			}
		}
		return true
	default:
		return v.Str == other.Str
	}
}

// MarshalJSON encodes the payload directly, without the discriminator:
// a string Value marshals as a JSON string, an object Value as a JSON object.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindObject:
		if v.Object == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Object)
	default:
		return json.Marshal(v.Str)
	}
}

// UnmarshalJSON infers the kind from the JSON token type. JSON arrays and
// null are rejected; the union is closed.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case bool:
		*v = Bool(t)
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k := range t {
			inner, err := fromAny(t[k])
			if err != nil {
				return fmt.Errorf("value key %q: %w", k, err)
			}
			obj[k] = inner
		}
		*v = Object(obj)
	default:
		return fmt.Errorf("unsupported value type %T", raw)
	}
	return nil
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case bool:
		return Bool(t), nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k := range t {
			inner, err := fromAny(t[k])
			if err != nil {
				return Value{}, err
			}
			obj[k] = inner
		}
		return Object(obj), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Metadata is an open key/value map restricted to the Value union.
type Metadata map[string]Value

// Clone returns a deep copy of the metadata map. A nil map stays nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

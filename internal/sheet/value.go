package sheet

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindText
	KindNumber
	KindBoolean
)

// String returns the lowercase kind name used in schema summaries.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	default:
		return "empty"
	}
}

// Value is a single cell. The zero Value is Empty.
type Value struct {
	kind Kind
	text string
	num  float64
	b    bool
}

// Empty returns the empty value.
func Empty() Value { return Value{} }

// Text returns a text value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Number returns a numeric value. NaN and infinities collapse to Empty.
func Number(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{kind: KindNumber, num: f}
}

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v is Empty.
func (v Value) IsEmpty() bool { return v.kind == KindEmpty }

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindText:
		return v.text == o.text
	case KindNumber:
		return v.num == o.num
	case KindBoolean:
		return v.b == o.b
	default:
		return true
	}
}

// String formats v the way it is written to delimited exports.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Interface returns the Go value used for JSON and spreadsheet encoding:
// string, float64, bool or nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return v.num
	case KindBoolean:
		return v.b
	default:
		return nil
	}
}

// MarshalJSON encodes v as a JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts any JSON scalar. Strings are kept verbatim as Text.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// FromInterface converts a decoded Go scalar into a Value. Composite
// values are rejected.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Empty(), nil
	case string:
		return Text(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Number(f), nil
	default:
		return Value{}, fmt.Errorf("unsupported cell value of type %T", x)
	}
}

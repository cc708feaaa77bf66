package record

import (
	"math"
	"reflect"
)

// TypeTag is the coarse type of a field value.
type TypeTag string

const (
	TypeInteger TypeTag = "integer"
	TypeFloat   TypeTag = "float"
	TypeText    TypeTag = "text"
	TypeBoolean TypeTag = "boolean"
	TypeNull    TypeTag = "null"
	TypeNested  TypeTag = "nested"

	// TypeMixed is reported for fields that have shown more than one type.
	TypeMixed TypeTag = "mixed"
)

// numberLiteral is satisfied by json.Number from both encoding/json and go-json.
type numberLiteral interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// Detect returns the coarse type of v.
func Detect(v any) TypeTag {
	switch Canonical(v).(type) {
	case nil:
		return TypeNull
	case int64:
		return TypeInteger
	case float64:
		return TypeFloat
	case string:
		return TypeText
	case bool:
		return TypeBoolean
	}
	if IsNested(v) {
		return TypeNested
	}
	return TypeText
}

// IsNested reports whether v is an object or array.
func IsNested(v any) bool {
	switch v.(type) {
	case map[string]any, []any, Record:
		return true
	case nil, []byte:
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Map || k == reflect.Slice || k == reflect.Array
}

// Canonical maps scalar values onto one representation per coarse type so
// that a value decoded from JSON compares equal to the same value produced
// in-process: every integer kind becomes int64, floats become float64.
// Non-scalar values are returned unchanged.
func Canonical(v any) any {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case int8:
		return int64(n)
	case uint:
		return uintToCanonical(uint64(n))
	case uint64:
		return uintToCanonical(n)
	case uint32:
		return int64(n)
	case uint16:
		return int64(n)
	case uint8:
		return int64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	case numberLiteral:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

func uintToCanonical(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// CanonicalDeep applies Canonical through nested objects and arrays.
func CanonicalDeep(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = CanonicalDeep(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = CanonicalDeep(inner)
		}
		return out
	default:
		return Canonical(v)
	}
}

// IsScalar reports whether v is a non-null scalar usable as a set key.
func IsScalar(v any) bool {
	switch Canonical(v).(type) {
	case int64, float64, string, bool:
		return true
	}
	return false
}

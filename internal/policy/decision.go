// Package policy decides which backend each field is written to.
package policy

import "github.com/dbsmedya/goadaptive/internal/record"

// Target is the backend a field is assigned to.
type Target string

const (
	Relational Target = "RELATIONAL"
	Document   Target = "DOCUMENT"
	Both       Target = "BOTH"
)

// Decision is the placement of one field. RelationalType and
// EnforceUniqueness only apply when the target includes the relational store.
type Decision struct {
	Target            Target `json:"target"`
	RelationalType    string `json:"sql_type,omitempty"`
	EnforceUniqueness bool   `json:"is_unique"`
}

// IsRelational reports whether the field has a relational column.
func (d Decision) IsRelational() bool {
	return d.Target == Relational || d.Target == Both
}

// IsDocument reports whether the field is written to the document store.
func (d Decision) IsDocument() bool {
	return d.Target == Document || d.Target == Both
}

// Decisions maps field name to its placement.
type Decisions map[string]Decision

// Clone returns an independent copy of d.
func (d Decisions) Clone() Decisions {
	out := make(Decisions, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// RelationalType maps a coarse type to a MySQL column type.
func RelationalType(t record.TypeTag) string {
	switch t {
	case record.TypeInteger:
		return "BIGINT"
	case record.TypeFloat:
		return "DOUBLE"
	case record.TypeBoolean:
		return "BOOLEAN"
	case record.TypeText, record.TypeNull:
		return "VARCHAR(255)"
	default:
		return "TEXT"
	}
}

// Package record defines the normalized record flowing through the engine
// and the coarse type system used to classify field values.
package record

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// Record is one normalized input record keyed by field name.
type Record map[string]any

// ErrNotObject is returned when a decoded payload is not a JSON object.
var ErrNotObject = errors.New("record is not a JSON object")

// Decode parses one JSON object into a Record. Numbers keep their
// integer/float distinction and are canonicalized.
func Decode(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return Record(CanonicalDeep(obj).(map[string]any)), nil
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Fields returns the field names of r in sorted order.
func (r Record) Fields() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JoinKeys is the mandatory field set written to both backends and used to
// correlate a relational row with its document.
type JoinKeys []string

// Contains reports whether field is a join key.
func (k JoinKeys) Contains(field string) bool {
	for _, j := range k {
		if j == field {
			return true
		}
	}
	return false
}

// Filter extracts the join-key values of r. Missing keys map to nil.
func (k JoinKeys) Filter(r Record) map[string]any {
	out := make(map[string]any, len(k))
	for _, j := range k {
		out[j] = r[j]
	}
	return out
}

// Package normalize cleans raw records before they reach the statistics tracker.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dbsmedya/goadaptive/internal/record"
)

// IngestedAtField is stamped on every record that does not already carry it.
const IngestedAtField = "sys_ingested_at"

// IngestedAtLayout is the textual form of IngestedAtField.
const IngestedAtLayout = "2006-01-02T15:04:05.000000"

var (
	camelBoundary   = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	acronymBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	underscoreRun   = regexp.MustCompile(`_+`)
)

// SnakeCase converts CamelCase, camelCase and mixed keys to snake_case.
// "userName" -> "user_name", "IPAddress" -> "ip_address".
func SnakeCase(key string) string {
	s := camelBoundary.ReplaceAllString(strings.TrimSpace(key), "${1}_${2}")
	s = acronymBoundary.ReplaceAllString(s, "${1}_${2}")
	s = underscoreRun.ReplaceAllString(s, "_")
	return strings.ToLower(s)
}

// Normalizer rewrites keys, trims string values and stamps ingestion time.
// Join-key values are rendered as text so a relational row and its
// document compare equal on them.
type Normalizer struct {
	joinKeys record.JoinKeys
	now      func() time.Time
}

// New creates a Normalizer for the given join keys.
func New(joinKeys record.JoinKeys) *Normalizer {
	return &Normalizer{joinKeys: joinKeys, now: time.Now}
}

// Normalize returns a cleaned copy of raw. Keys are visited in sorted order
// so that two raw keys collapsing to the same name resolve deterministically.
func (n *Normalizer) Normalize(raw record.Record) record.Record {
	out := make(record.Record, len(raw)+1)

	if v, ok := raw[IngestedAtField]; ok && v != nil {
		out[IngestedAtField] = v
	} else {
		out[IngestedAtField] = n.now().Format(IngestedAtLayout)
	}

	for _, key := range raw.Fields() {
		if key == IngestedAtField {
			continue
		}
		name := SnakeCase(key)
		if name == "" {
			continue
		}
		value := record.CanonicalDeep(raw[key])
		if s, ok := value.(string); ok {
			value = strings.TrimSpace(s)
		}
		out[name] = value
	}

	for _, key := range n.joinKeys {
		if v, ok := out[key]; ok && v != nil && record.IsScalar(v) {
			if _, isText := v.(string); !isText {
				out[key] = fmt.Sprint(v)
			}
		}
	}

	return out
}

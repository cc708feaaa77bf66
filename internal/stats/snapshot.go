package stats

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dbsmedya/goadaptive/internal/record"
)

// Snapshot is the persisted form of a Tracker.
type Snapshot struct {
	TotalRecordsProcessed int64                    `json:"totalRecordsProcessed"`
	FieldStats            map[string]FieldSnapshot `json:"fieldStats"`
}

// FieldSnapshot is the persisted form of one field's statistics.
// UniqueValues is only written for small, uncapped sample sets.
// BaseUniqueCount is the running distinct total at export time.
type FieldSnapshot struct {
	Count           int64            `json:"count"`
	Types           []record.TypeTag `json:"types"`
	IsNested        bool             `json:"is_nested"`
	UniqueValues    []any            `json:"unique_values,omitempty"`
	BaseUniqueCount int64            `json:"base_unique_count"`
	UniqueCapped    bool             `json:"_unique_capped"`
}

// Export returns a copy of the tracker state suitable for persistence.
func (t *Tracker) Export() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		TotalRecordsProcessed: t.total,
		FieldStats:            make(map[string]FieldSnapshot, len(t.fields)),
	}
	for name, fs := range t.fields {
		fsnap := FieldSnapshot{
			Count:           fs.count,
			Types:           fs.sortedTypes(),
			IsNested:        fs.nested,
			BaseUniqueCount: fs.baseline + int64(fs.samples.size()),
			UniqueCapped:    fs.capped,
		}
		if !fs.capped && fs.samples.fillers == 0 && len(fs.samples.values) < t.smallSet {
			fsnap.UniqueValues = make([]any, 0, len(fs.samples.values))
			for v := range fs.samples.values {
				fsnap.UniqueValues = append(fsnap.UniqueValues, v)
			}
		}
		snap.FieldStats[name] = fsnap
	}
	return snap
}

// Restore replaces the tracker state with snap.
//
// The restored baseline is the exported running total minus the size of the
// reseeded sample set, so the next export reports the same total instead of
// counting the seeded values twice. A capped field is reseeded to full
// capacity with fillers and stays capped.
func (t *Tracker) Restore(snap Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = snap.TotalRecordsProcessed
	t.fields = make(map[string]*fieldStat, len(snap.FieldStats))

	for name, fsnap := range snap.FieldStats {
		fs := newFieldStat()
		fs.count = fsnap.Count
		fs.nested = fsnap.IsNested
		for _, tag := range fsnap.Types {
			fs.types[tag] = struct{}{}
		}

		if fsnap.UniqueCapped {
			fs.capped = true
			fs.samples.fillers = t.capacity
		} else {
			// JSON writes 2.0 as 2; a float-only field must get its floats back.
			_, floatOnly := fs.types[record.TypeFloat]
			floatOnly = floatOnly && len(fs.types) == 1
			for _, v := range fsnap.UniqueValues {
				if len(fs.samples.values) >= t.capacity {
					break
				}
				if !record.IsScalar(v) {
					continue
				}
				key := record.Canonical(v)
				if i, isInt := key.(int64); isInt && floatOnly {
					key = float64(i)
				}
				fs.samples.values[key] = struct{}{}
			}
			if fs.samples.size() >= t.capacity {
				fs.capped = true
			}
		}

		fs.baseline = fsnap.BaseUniqueCount - int64(fs.samples.size())
		if fs.baseline < 0 {
			fs.baseline = 0
		}
		t.fields[name] = fs
	}
}

// MarshalSnapshot encodes snap as indented JSON.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

// ParseSnapshot decodes a persisted snapshot. Input without the
// totalRecordsProcessed/fieldStats envelope is read as a bare field map and
// restores with a total of zero.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Snapshot{}, fmt.Errorf("parse stats snapshot: %w", err)
	}

	_, hasTotal := envelope["totalRecordsProcessed"]
	_, hasFields := envelope["fieldStats"]

	var snap Snapshot
	if hasTotal || hasFields {
		if err := decodeNumbers(data, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("parse stats snapshot: %w", err)
		}
	} else {
		legacy := make(map[string]FieldSnapshot)
		if err := decodeNumbers(data, &legacy); err != nil {
			return Snapshot{}, fmt.Errorf("parse legacy stats snapshot: %w", err)
		}
		snap.FieldStats = legacy
	}
	if snap.FieldStats == nil {
		snap.FieldStats = make(map[string]FieldSnapshot)
	}
	return snap, nil
}

// decodeNumbers keeps integer sample values distinct from floats.
func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

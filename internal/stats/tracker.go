// Package stats tracks per-field statistics over the record stream and
// persists them across restarts without rescanning history.
package stats

import (
	"sort"
	"sync"

	"github.com/dbsmedya/goadaptive/internal/config"
	"github.com/dbsmedya/goadaptive/internal/record"
)

const (
	DefaultSampleCapacity    = 1000
	DefaultSmallSetThreshold = 20
)

// sampleSet is a bounded set of distinct scalar values. fillers stands in
// for values that were seen in an earlier session but not persisted; they
// occupy capacity and never compare equal to a real value.
type sampleSet struct {
	values  map[any]struct{}
	fillers int
}

func (s *sampleSet) size() int {
	return len(s.values) + s.fillers
}

type fieldStat struct {
	count    int64
	types    map[record.TypeTag]struct{}
	nested   bool
	samples  sampleSet
	baseline int64
	capped   bool
}

func newFieldStat() *fieldStat {
	return &fieldStat{
		types:   make(map[record.TypeTag]struct{}),
		samples: sampleSet{values: make(map[any]struct{})},
	}
}

func (f *fieldStat) sortedTypes() []record.TypeTag {
	out := make([]record.TypeTag, 0, len(f.types))
	for t := range f.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Summary is a point-in-time view of one field.
type Summary struct {
	OccurrenceCount  int64            `json:"count"`
	FrequencyRatio   float64          `json:"frequency_ratio"`
	Stable           bool             `json:"stable"`
	DetectedType     record.TypeTag   `json:"detected_type"`
	Types            []record.TypeTag `json:"types"`
	IsNested         bool             `json:"is_nested"`
	DistinctEstimate int64            `json:"distinct_estimate"`
	UniqueRatio      float64          `json:"unique_ratio"`
	Capped           bool             `json:"capped"`
}

// Tracker owns every field's statistics. All access goes through one mutex,
// so a summary is never computed from a stat that is mid-update.
type Tracker struct {
	mu       sync.Mutex
	fields   map[string]*fieldStat
	total    int64
	capacity int
	smallSet int
}

// NewTracker creates an empty tracker. Zero config values fall back to defaults.
func NewTracker(cfg config.StatsConfig) *Tracker {
	capacity := cfg.SampleCapacity
	if capacity <= 0 {
		capacity = DefaultSampleCapacity
	}
	smallSet := cfg.SmallSetThreshold
	if smallSet < 0 {
		smallSet = DefaultSmallSetThreshold
	}
	return &Tracker{
		fields:   make(map[string]*fieldStat),
		capacity: capacity,
		smallSet: smallSet,
	}
}

// Ingest folds a batch of normalized records into the statistics.
func (t *Tracker) Ingest(batch []record.Record) {
	if len(batch) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total += int64(len(batch))
	for _, rec := range batch {
		for name, value := range rec {
			fs, ok := t.fields[name]
			if !ok {
				fs = newFieldStat()
				t.fields[name] = fs
			}
			t.observe(fs, value)
		}
	}
}

func (t *Tracker) observe(fs *fieldStat, value any) {
	fs.count++
	fs.types[record.Detect(value)] = struct{}{}
	if record.IsNested(value) {
		fs.nested = true
	}

	if fs.capped || !record.IsScalar(value) {
		return
	}
	key := record.Canonical(value)
	if _, seen := fs.samples.values[key]; seen {
		return
	}
	fs.samples.values[key] = struct{}{}
	if fs.samples.size() >= t.capacity {
		fs.capped = true
	}
}

// Summarize returns a summary of every tracked field.
func (t *Tracker) Summarize() map[string]Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Summary, len(t.fields))
	for name, fs := range t.fields {
		out[name] = t.summarize(fs)
	}
	return out
}

// SummaryFor returns the summary of a single field.
func (t *Tracker) SummaryFor(field string) (Summary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fs, ok := t.fields[field]
	if !ok {
		return Summary{}, false
	}
	return t.summarize(fs), true
}

// TotalRecords returns how many records have been ingested, including restored history.
func (t *Tracker) TotalRecords() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// FieldCount returns how many distinct fields have been observed.
func (t *Tracker) FieldCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fields)
}

func (t *Tracker) summarize(fs *fieldStat) Summary {
	types := fs.sortedTypes()
	s := Summary{
		OccurrenceCount:  fs.count,
		Stable:           len(types) == 1,
		DetectedType:     record.TypeMixed,
		Types:            types,
		IsNested:         fs.nested,
		DistinctEstimate: fs.baseline + int64(fs.samples.size()),
		Capped:           fs.capped,
	}
	if s.Stable {
		s.DetectedType = types[0]
	}
	if t.total > 0 {
		s.FrequencyRatio = float64(fs.count) / float64(t.total)
	}
	if fs.count > 0 {
		s.UniqueRatio = float64(s.DistinctEstimate) / float64(fs.count)
		if s.UniqueRatio > 1 {
			s.UniqueRatio = 1
		}
	}
	return s
}

package stats

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goadaptive/internal/config"
	"github.com/dbsmedya/goadaptive/internal/record"
)

func newTestTracker(capacity int) *Tracker {
	return NewTracker(config.StatsConfig{SampleCapacity: capacity, SmallSetThreshold: 20})
}

func TestIngestCountsOccurrences(t *testing.T) {
	tr := newTestTracker(1000)

	tr.Ingest([]record.Record{
		{"username": "a", "age": 1},
		{"username": "b"},
		{"username": "c", "age": 3},
	})
	tr.Ingest([]record.Record{{"age": 4}})

	sums := tr.Summarize()
	assert.Equal(t, int64(3), sums["username"].OccurrenceCount)
	assert.Equal(t, int64(3), sums["age"].OccurrenceCount)
	assert.Equal(t, int64(4), tr.TotalRecords())
	assert.InDelta(t, 0.75, sums["age"].FrequencyRatio, 1e-9)
	assert.InDelta(t, 0.75, sums["username"].FrequencyRatio, 1e-9)
}

func TestIngestEmptyBatchIsNoop(t *testing.T) {
	tr := newTestTracker(1000)
	tr.Ingest(nil)
	tr.Ingest([]record.Record{})

	assert.Equal(t, int64(0), tr.TotalRecords())
	assert.Empty(t, tr.Summarize())
}

func TestMixedTypesAreUnstable(t *testing.T) {
	tr := newTestTracker(1000)
	tr.Ingest([]record.Record{{"score": 100}, {"score": "A+"}})

	s := tr.Summarize()["score"]
	assert.False(t, s.Stable)
	assert.Equal(t, record.TypeMixed, s.DetectedType)
	assert.Equal(t, []record.TypeTag{record.TypeInteger, record.TypeText}, s.Types)
}

func TestStableTypeDetected(t *testing.T) {
	tr := newTestTracker(1000)
	tr.Ingest([]record.Record{{"age": 25}, {"age": int64(30)}, {"age": int32(41)}})

	s := tr.Summarize()["age"]
	assert.True(t, s.Stable)
	assert.Equal(t, record.TypeInteger, s.DetectedType)
	assert.Equal(t, int64(3), s.DistinctEstimate)
	assert.InDelta(t, 1.0, s.UniqueRatio, 1e-9)
}

func TestNestingIsSticky(t *testing.T) {
	tr := newTestTracker(1000)
	tr.Ingest([]record.Record{{"meta": map[string]any{"origin": "US"}}})
	tr.Ingest([]record.Record{{"meta": "flat"}})

	s := tr.Summarize()["meta"]
	assert.True(t, s.IsNested)
	assert.False(t, s.Stable)
}

func TestNullOnlyField(t *testing.T) {
	tr := newTestTracker(1000)
	tr.Ingest([]record.Record{{"gone": nil}, {"gone": nil}})

	s := tr.Summarize()["gone"]
	assert.True(t, s.Stable)
	assert.Equal(t, record.TypeNull, s.DetectedType)
	assert.Equal(t, int64(0), s.DistinctEstimate)
}

func TestSampleSetCaps(t *testing.T) {
	tr := newTestTracker(10)

	batch := make([]record.Record, 0, 25)
	for i := 0; i < 25; i++ {
		batch = append(batch, record.Record{"user_uuid": fmt.Sprintf("u-%d", i)})
	}
	tr.Ingest(batch)

	s := tr.Summarize()["user_uuid"]
	assert.True(t, s.Capped)
	assert.Equal(t, int64(10), s.DistinctEstimate)
	assert.InDelta(t, 0.4, s.UniqueRatio, 1e-9)
}

func TestRepeatedValuesLowerUniqueRatio(t *testing.T) {
	tr := newTestTracker(1000)
	batch := make([]record.Record, 0, 10)
	for i := 0; i < 10; i++ {
		batch = append(batch, record.Record{"country": []string{"US", "FR"}[i%2]})
	}
	tr.Ingest(batch)

	assert.InDelta(t, 0.2, tr.Summarize()["country"].UniqueRatio, 1e-9)
}

func TestSummaryFor(t *testing.T) {
	tr := newTestTracker(1000)
	tr.Ingest([]record.Record{{"age": 1}})

	s, ok := tr.SummaryFor("age")
	require.True(t, ok)
	assert.Equal(t, int64(1), s.OccurrenceCount)

	_, ok = tr.SummaryFor("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, tr.FieldCount())
}

func TestConcurrentIngestAndSummarize(t *testing.T) {
	tr := newTestTracker(1000)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.Ingest([]record.Record{{"n": w*1000 + i, "k": "x"}})
				_ = tr.Summarize()
			}
		}(w)
	}
	wg.Wait()

	s := tr.Summarize()
	assert.Equal(t, int64(400), s["n"].OccurrenceCount)
	assert.Equal(t, int64(400), s["n"].DistinctEstimate)
	assert.Equal(t, int64(1), s["k"].DistinctEstimate)
}

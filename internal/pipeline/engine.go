// Package pipeline runs the three ingestion stages: intake normalizes raw
// records, analyze learns statistics and classifies fields, and write routes
// each batch to the backends and persists state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dbsmedya/goadaptive/internal/config"
	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/normalize"
	"github.com/dbsmedya/goadaptive/internal/policy"
	"github.com/dbsmedya/goadaptive/internal/record"
	"github.com/dbsmedya/goadaptive/internal/router"
	"github.com/dbsmedya/goadaptive/internal/stats"
)

// ErrMalformedRecord marks input that is not a JSON object.
var ErrMalformedRecord = errors.New("malformed record")

// Classifier decides field placement from summaries.
type Classifier interface {
	Classify(ctx context.Context, summaries map[string]stats.Summary) policy.Decisions
	Export() policy.Decisions
}

// Router writes one classified batch.
type Router interface {
	Route(ctx context.Context, batch []record.Record, decisions policy.Decisions) *router.RouteResult
	Memory() policy.Decisions
}

// StateStore persists the engine's learned state.
type StateStore interface {
	Save(snap stats.Snapshot, decisions, routing policy.Decisions) error
}

// Payload is one analyzed batch on its way to the write stage.
type Payload struct {
	Seq              int
	Batch            []record.Record
	Decisions        policy.Decisions
	Stats            stats.Snapshot
	DecisionSnapshot policy.Decisions
}

// Status is a point-in-time view of the engine for the console.
type Status struct {
	Uptime          time.Duration
	RawQueued       int
	RawCapacity     int
	PayloadQueued   int
	PayloadCapacity int
	Ingested        int64
	Malformed       int64
	Batches         int64
	TotalRecords    int64
	Fields          int
}

// Engine owns the queues and stage goroutines.
type Engine struct {
	cfg        config.PipelineConfig
	source     Source
	normalizer *normalize.Normalizer
	tracker    *stats.Tracker
	classifier Classifier
	router     Router
	state      StateStore
	metrics    *Metrics
	logger     *logger.Logger

	raw      *Queue[record.Record]
	payloads *Queue[Payload]

	started   time.Time
	ingested  atomic.Int64
	malformed atomic.Int64
	batches   atomic.Int64
}

// NewEngine wires an engine. state and metrics may be nil.
func NewEngine(
	cfg config.PipelineConfig,
	source Source,
	normalizer *normalize.Normalizer,
	tracker *stats.Tracker,
	classifier Classifier,
	rt Router,
	state StateStore,
	metrics *Metrics,
	log *logger.Logger,
) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("source is nil")
	}
	if normalizer == nil || tracker == nil || classifier == nil || rt == nil {
		return nil, fmt.Errorf("normalizer, tracker, classifier and router are required")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = logger.NewDefault()
	}

	return &Engine{
		cfg:        cfg,
		source:     source,
		normalizer: normalizer,
		tracker:    tracker,
		classifier: classifier,
		router:     rt,
		state:      state,
		metrics:    metrics,
		logger:     log,
		raw:        NewQueue[record.Record](cfg.QueueCapacity),
		payloads:   NewQueue[Payload](cfg.QueueCapacity),
		started:    time.Now(),
	}, nil
}

func (e *Engine) pollTimeout() time.Duration {
	if e.cfg.PollTimeoutSeconds <= 0 {
		return time.Second
	}
	return time.Duration(e.cfg.PollTimeoutSeconds * float64(time.Second))
}

func (e *Engine) backoff() time.Duration {
	if e.cfg.BackoffMillis <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(e.cfg.BackoffMillis) * time.Millisecond
}

// Run starts the stages and blocks until all three have finished. Canceling
// ctx stops intake; everything already read is still analyzed and written.
// The returned error is the intake error, if any.
func (e *Engine) Run(ctx context.Context) error {
	e.started = time.Now()
	e.logger.Infof("Pipeline started (batch size %d, queue capacity %d)", e.cfg.BatchSize, e.raw.Cap())

	intakeErr := make(chan error, 1)
	analyzeDone := make(chan struct{})
	writeDone := make(chan struct{})

	go func() { intakeErr <- e.intake(ctx) }()
	go func() {
		defer close(analyzeDone)
		e.analyze(ctx)
	}()
	go func() {
		defer close(writeDone)
		e.write(ctx)
	}()

	err := <-intakeErr
	<-analyzeDone
	<-writeDone

	e.logger.Infof("Pipeline stopped: %d ingested, %d malformed, %d batches",
		e.ingested.Load(), e.malformed.Load(), e.batches.Load())
	return err
}

type sourceItem struct {
	data []byte
	err  error
}

// intake reads the source until it is exhausted or ctx is canceled, then
// closes the raw queue.
func (e *Engine) intake(ctx context.Context) error {
	log := e.logger.WithStage("intake")
	defer e.raw.Close()
	defer e.source.Close()

	items := make(chan sourceItem)
	stop := make(chan struct{})
	defer close(stop)

	// Reads may block (stdin, idle stream), so they run apart from the
	// cancellation check.
	go func() {
		for {
			data, err := e.source.Next(ctx)
			select {
			case items <- sourceItem{data: data, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var item sourceItem
		select {
		case <-ctx.Done():
			log.Info("Stop requested, intake finished")
			return nil
		case item = <-items:
		}

		if item.err != nil {
			if errors.Is(item.err, io.EOF) {
				log.Info("Source exhausted")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("source read failed: %w", item.err)
		}

		rec, err := e.parse(item.data)
		if err != nil {
			e.malformed.Add(1)
			e.metrics.MalformedRecords.Inc()
			log.Warnf("Skipping record: %v", err)
			continue
		}

		if err := e.raw.PutWait(rec, e.backoff()); err != nil {
			return err
		}
		e.ingested.Add(1)
		e.metrics.RecordsIngested.Inc()
		e.metrics.QueueDepth.WithLabelValues("raw").Set(float64(e.raw.Len()))
	}
}

func (e *Engine) parse(data []byte) (record.Record, error) {
	raw, err := record.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return e.normalizer.Normalize(raw), nil
}

// analyze batches normalized records, then learns and classifies each batch.
// It flushes a final short batch once the raw queue is closed.
func (e *Engine) analyze(ctx context.Context) {
	log := e.logger.WithStage("analyze")
	defer e.payloads.Close()

	// Classification may consult the advisor; it must finish during shutdown.
	work := context.WithoutCancel(ctx)
	buf := make([]record.Record, 0, e.cfg.BatchSize)
	seq := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		seq++
		batch := buf
		buf = make([]record.Record, 0, e.cfg.BatchSize)

		e.tracker.Ingest(batch)
		decisions := e.classifier.Classify(work, e.tracker.Summarize())
		p := Payload{
			Seq:              seq,
			Batch:            batch,
			Decisions:        decisions,
			Stats:            e.tracker.Export(),
			DecisionSnapshot: e.classifier.Export(),
		}
		e.metrics.FieldsTracked.Set(float64(e.tracker.FieldCount()))
		log.Debugf("Batch %d classified: %d records, %d fields", seq, len(batch), len(decisions))

		if err := e.payloads.PutWait(p, e.backoff()); err != nil {
			log.Errorf("Dropping batch %d: %v", seq, err)
		}
		e.metrics.QueueDepth.WithLabelValues("payload").Set(float64(e.payloads.Len()))
	}

	for {
		rec, err := e.raw.Get(e.pollTimeout())
		if errors.Is(err, ErrQueueClosed) {
			flush()
			return
		}
		if err != nil {
			continue
		}
		buf = append(buf, rec)
		if len(buf) >= e.cfg.BatchSize {
			flush()
		}
	}
}

// write routes every payload until the payload queue is closed and drained.
func (e *Engine) write(ctx context.Context) {
	log := e.logger.WithStage("write")
	work := context.WithoutCancel(ctx)

	for {
		p, err := e.payloads.Get(e.pollTimeout())
		if errors.Is(err, ErrQueueClosed) {
			return
		}
		if err != nil {
			continue
		}
		e.metrics.QueueDepth.WithLabelValues("payload").Set(float64(e.payloads.Len()))
		e.writeOne(work, log.WithBatch(p.Seq), p)
	}
}

func (e *Engine) writeOne(ctx context.Context, log *logger.Logger, p Payload) {
	res := e.router.Route(ctx, p.Batch, p.Decisions)
	e.batches.Add(1)
	e.recordResult(res)

	if err := res.Err(); err != nil {
		log.Warnf("Batch routed with errors: %v", err)
	} else {
		log.Debugf("Batch routed: %d rows, %d documents", res.RelationalRows, res.DocumentRows)
	}

	if e.state == nil {
		return
	}
	if err := e.state.Save(p.Stats, p.DecisionSnapshot, e.router.Memory()); err != nil {
		log.Errorf("Failed to persist state: %v", err)
	}
}

func (e *Engine) recordResult(res *router.RouteResult) {
	m := e.metrics
	m.BatchesRouted.Inc()
	m.RouteDuration.Observe(res.Duration.Seconds())
	m.RowsWritten.WithLabelValues("relational").Add(float64(res.RelationalRows))
	m.RowsWritten.WithLabelValues("document").Add(float64(res.DocumentRows))
	m.Migrations.WithLabelValues("ok").Add(float64(len(res.Migrated)))
	m.Migrations.WithLabelValues("failed").Add(float64(len(res.FailedMigrations)))
	if res.SchemaErr != nil {
		m.BackendErrors.WithLabelValues("relational", "evolve").Inc()
	}
	if res.RelationalErr != nil {
		m.BackendErrors.WithLabelValues("relational", "insert").Inc()
	}
	if res.DocumentErr != nil {
		m.BackendErrors.WithLabelValues("document", "insert").Inc()
	}
}

// Status reports uptime, queue depths and counters.
func (e *Engine) Status() Status {
	return Status{
		Uptime:          time.Since(e.started),
		RawQueued:       e.raw.Len(),
		RawCapacity:     e.raw.Cap(),
		PayloadQueued:   e.payloads.Len(),
		PayloadCapacity: e.payloads.Cap(),
		Ingested:        e.ingested.Load(),
		Malformed:       e.malformed.Load(),
		Batches:         e.batches.Load(),
		TotalRecords:    e.tracker.TotalRecords(),
		Fields:          e.tracker.FieldCount(),
	}
}

// Summaries returns the current per-field summaries.
func (e *Engine) Summaries() map[string]stats.Summary {
	return e.tracker.Summarize()
}

// Summary returns one field's summary.
func (e *Engine) Summary(field string) (stats.Summary, bool) {
	return e.tracker.SummaryFor(field)
}

// Decisions returns the classifier's current decision memory.
func (e *Engine) Decisions() policy.Decisions {
	return e.classifier.Export()
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

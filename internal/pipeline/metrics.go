package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors on a private registry,
// so several engines can run in one process (and in tests).
type Metrics struct {
	Registry *prometheus.Registry

	RecordsIngested  prometheus.Counter
	MalformedRecords prometheus.Counter
	BatchesRouted    prometheus.Counter
	RowsWritten      *prometheus.CounterVec
	BackendErrors    *prometheus.CounterVec
	Migrations       *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	FieldsTracked    prometheus.Gauge
	RouteDuration    prometheus.Histogram
}

// NewMetrics registers every collector on a new registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RecordsIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: "goadaptive",
			Name:      "records_ingested_total",
			Help:      "Records accepted by the intake stage.",
		}),
		MalformedRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: "goadaptive",
			Name:      "records_malformed_total",
			Help:      "Records skipped because they were not JSON objects.",
		}),
		BatchesRouted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "goadaptive",
			Name:      "batches_routed_total",
			Help:      "Batches handed to the router.",
		}),
		RowsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goadaptive",
			Name:      "rows_written_total",
			Help:      "Rows or documents written, by backend.",
		}, []string{"backend"}),
		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goadaptive",
			Name:      "backend_errors_total",
			Help:      "Failed backend operations, by backend and operation.",
		}, []string{"backend", "op"}),
		Migrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goadaptive",
			Name:      "migrations_total",
			Help:      "Relational to document field migrations, by result.",
		}, []string{"result"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "goadaptive",
			Name:      "queue_depth",
			Help:      "Items waiting in each pipeline queue.",
		}, []string{"queue"}),
		FieldsTracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "goadaptive",
			Name:      "fields_tracked",
			Help:      "Distinct fields with statistics.",
		}),
		RouteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "goadaptive",
			Name:      "route_duration_seconds",
			Help:      "Time spent routing one batch, migrations included.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

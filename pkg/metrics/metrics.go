package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Prefix = "polymarket_ingest_"

type JobOutcome string

const (
	JobOutcomeSuccess JobOutcome = "success"
	JobOutcomeRetry   JobOutcome = "retry"
	JobOutcomeDropped JobOutcome = "dropped"
)

// Metrics groups the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	queueDepth        prometheus.Gauge
	jobs              *prometheus.CounterVec
	written           *prometheus.CounterVec
	skipped           *prometheus.CounterVec
	fetchErrors       *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	syncInProgress    prometheus.Gauge
	syncDuration      prometheus.Gauge
	checkpointOutcome *prometheus.CounterVec
}

// New registers the collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: Prefix + "queue_depth",
			Help: "Number of jobs waiting in the polling queue",
		}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "queue_jobs_total",
			Help: "Queue job attempts grouped by job name and outcome",
		}, []string{"job", "outcome"}),
		written: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "records_written_total",
			Help: "Records upserted grouped by stream and mode",
		}, []string{"stream", "mode"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "records_skipped_total",
			Help: "Events skipped for missing required fields grouped by stream and mode",
		}, []string{"stream", "mode"}),
		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "fetch_errors_total",
			Help: "Failed event fetches grouped by stream",
		}, []string{"stream"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    Prefix + "fetch_duration_seconds",
			Help:    "Duration of event fetches grouped by stream",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"stream"}),
		syncInProgress: f.NewGauge(prometheus.GaugeOpts{
			Name: Prefix + "initial_sync_in_progress",
			Help: "1 while the initial sync runs",
		}),
		syncDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: Prefix + "initial_sync_duration_seconds",
			Help: "Duration of the last completed initial sync",
		}),
		checkpointOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: Prefix + "checkpoints_total",
			Help: "Storage checkpoints grouped by status",
		}, []string{"status"}),
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) RecordJob(job string, outcome JobOutcome) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(job, string(outcome)).Inc()
}

func (m *Metrics) RecordBatch(stream, mode string, written, skipped int) {
	if m == nil {
		return
	}
	m.written.WithLabelValues(stream, mode).Add(float64(written))
	m.skipped.WithLabelValues(stream, mode).Add(float64(skipped))
}

func (m *Metrics) RecordFetch(stream string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(stream).Observe(took.Seconds())
	if err != nil {
		m.fetchErrors.WithLabelValues(stream).Inc()
	}
}

func (m *Metrics) SyncStarted() {
	if m == nil {
		return
	}
	m.syncInProgress.Set(1)
}

func (m *Metrics) SyncFinished(took time.Duration) {
	if m == nil {
		return
	}
	m.syncInProgress.Set(0)
	m.syncDuration.Set(took.Seconds())
}

func (m *Metrics) RecordCheckpoint(status string) {
	if m == nil {
		return
	}
	m.checkpointOutcome.WithLabelValues(status).Inc()
}

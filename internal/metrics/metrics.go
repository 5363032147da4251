// Package metrics provides Prometheus metrics for the document pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for docscan
type Metrics struct {
	// Queue metrics
	JobsTotal        *prometheus.CounterVec
	JobDuration      prometheus.Histogram
	JobsInFlight     prometheus.Gauge
	EnqueueTotal     *prometheus.CounterVec
	RedeliveredTotal prometheus.Counter

	// Stage metrics
	StageAttemptsTotal *prometheus.CounterVec
	StageOutcomesTotal *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec

	// Document metrics
	DocumentsFinishedTotal *prometheus.CounterVec
	PagesProcessedTotal    prometheus.Counter
	PageConfidence         prometheus.Histogram

	// Index metrics
	IndexOperationsTotal  *prometheus.CounterVec
	ReconcileActionsTotal *prometheus.CounterVec
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.JobsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_jobs_total",
			Help: "Total number of jobs handled by workers",
		},
		[]string{"outcome"},
	)
	m.JobDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docscan_job_duration_seconds",
			Help:    "Duration of one job run in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 900},
		},
	)
	m.JobsInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "docscan_jobs_in_flight",
			Help: "Number of jobs currently being processed",
		},
	)
	m.EnqueueTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_enqueue_total",
			Help: "Total number of enqueue attempts by reason and result",
		},
		[]string{"reason", "result"},
	)
	m.RedeliveredTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "docscan_jobs_redelivered_total",
			Help: "Total number of deliveries after the first",
		},
	)

	m.StageAttemptsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_stage_attempts_total",
			Help: "Total number of stage attempts",
		},
		[]string{"stage"},
	)
	m.StageOutcomesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_stage_outcomes_total",
			Help: "Total number of stage results by outcome (ok, failed, skipped)",
		},
		[]string{"stage", "outcome"},
	)
	m.StageDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docscan_stage_duration_seconds",
			Help:    "Duration of a stage including retries in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	m.DocumentsFinishedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_documents_finished_total",
			Help: "Total number of documents reaching a terminal status",
		},
		[]string{"status"},
	)
	m.PagesProcessedTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "docscan_pages_processed_total",
			Help: "Total number of pages committed",
		},
	)
	m.PageConfidence = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docscan_page_confidence",
			Help:    "Aggregate recognition confidence of committed pages",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, .95, .99},
		},
	)

	m.IndexOperationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_index_operations_total",
			Help: "Total number of search index operations",
		},
		[]string{"operation", "status"},
	)
	m.ReconcileActionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_reconcile_actions_total",
			Help: "Total number of corrective actions taken by the reconciler",
		},
		[]string{"action"},
	)

	return m
}

// JobStarted marks a job in flight and returns a func recording its outcome.
func (m *Metrics) JobStarted(deliveries int) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.JobsInFlight.Inc()
	if deliveries > 1 {
		m.RedeliveredTotal.Inc()
	}
	return func(outcome string) {
		m.JobsInFlight.Dec()
		m.JobsTotal.WithLabelValues(outcome).Inc()
		m.JobDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RecordEnqueue(reason, result string) {
	if m == nil {
		return
	}
	m.EnqueueTotal.WithLabelValues(reason, result).Inc()
}

// RecordStage records one finished stage run with its attempt count.
func (m *Metrics) RecordStage(stage, outcome string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	m.StageAttemptsTotal.WithLabelValues(stage).Add(float64(attempts))
	m.StageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (m *Metrics) RecordPage(confidence float64) {
	if m == nil {
		return
	}
	m.PagesProcessedTotal.Inc()
	m.PageConfidence.Observe(confidence)
}

func (m *Metrics) RecordFinished(status string) {
	if m == nil {
		return
	}
	m.DocumentsFinishedTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordIndex(operation string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.IndexOperationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) RecordReconcile(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReconcileActionsTotal.WithLabelValues(action).Add(float64(n))
}

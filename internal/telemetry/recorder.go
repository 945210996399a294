// Package telemetry exports Dispatcher and Coordinator activity as
// Prometheus metrics. All data stays in-process; nothing is reported
// externally except via the metrics HTTP endpoint a caller chooses to
// expose.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements dispatcher.OperationRecorder against a private
// Prometheus registry, so multiple Recorders (one per test, say) never
// collide on global metric registration.
type Recorder struct {
	registry *prometheus.Registry

	opsTotal    *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	jobsTotal   *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
	workerState *prometheus.GaugeVec
}

// NewRecorder builds a Recorder with its own registry pre-populated
// with the standard process/Go collectors, matching what
// promhttp.Handler() would otherwise only show for the default
// registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGoCollector())

	r := &Recorder{
		registry: reg,
		opsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "codeindexmcp_operations_total",
			Help: "Total number of Dispatcher operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		opDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codeindexmcp_operation_duration_seconds",
			Help:    "Dispatcher operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		jobsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "codeindexmcp_coordinator_jobs_total",
			Help: "Total number of indexing jobs completed by the coordinator, by outcome.",
		}, []string{"outcome"}),
		queueDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "codeindexmcp_coordinator_queue_depth",
			Help: "Current number of pending jobs per priority queue.",
		}, []string{"priority"}),
		workerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "codeindexmcp_worker_state",
			Help: "1 if a worker is currently in the given state, 0 otherwise.",
		}, []string{"worker_id", "state"}),
	}
	return r
}

// RecordOperation implements dispatcher.OperationRecorder.
func (r *Recorder) RecordOperation(name string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.opsTotal.WithLabelValues(name, outcome).Inc()
	r.opDuration.WithLabelValues(name).Observe(d.Seconds())
}

// RecordJobOutcome records one coordinator job reaching a terminal
// state ("completed", "failed", "cancelled").
func (r *Recorder) RecordJobOutcome(outcome string) {
	r.jobsTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth publishes the current depth of a priority queue.
func (r *Recorder) SetQueueDepth(priority string, depth int64) {
	r.queueDepth.WithLabelValues(priority).Set(float64(depth))
}

// SetWorkerState records a worker's current lifecycle state: the given
// state's gauge is set to 1 and the worker's other state gauges to 0,
// so no separate zeroing pass is needed. Nothing removes a worker's
// gauges; they keep their last values once the worker stops reporting.
func (r *Recorder) SetWorkerState(workerID, state string) {
	for _, s := range []string{"idle", "busy", "error", "offline"} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		r.workerState.WithLabelValues(workerID, s).Set(value)
	}
}

// Handler returns an http.Handler serving this Recorder's metrics in
// the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly so tests can
// gather and assert on specific metric families directly.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector using Prometheus metrics
type PrometheusCollector struct {
	// Scheduler metrics
	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	queueDepth   prometheus.Gauge

	// Thread discovery metrics
	scanCycles      prometheus.Counter
	threadsSeen     prometheus.Counter
	threadsFlushed  prometheus.Counter
	installFailures *prometheus.CounterVec
	flushRearms     prometheus.Counter

	// Pool metrics
	poolDrains     *prometheus.CounterVec
	poolIterations *prometheus.CounterVec

	// Patch metrics
	patchOutcomes *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusCollector creates a new Prometheus metrics collector
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = "plumber"
	}

	pc := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
	}

	pc.taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Total number of scheduled task executions",
		},
		[]string{"task", "kind", "status"},
	)

	pc.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Duration of scheduled task executions",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"task", "kind"},
	)

	pc.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "timer_queue_depth",
			Help:      "Number of tasks waiting for their next run",
		},
	)

	pc.scanCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "threads",
			Name:      "scan_cycles_total",
			Help:      "Total number of worker-thread discovery passes",
		},
	)

	pc.threadsSeen = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "threads",
			Name:      "discovered_total",
			Help:      "Total number of worker threads returned by discovery, including repeats",
		},
	)

	pc.threadsFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "threads",
			Name:      "instrumented_total",
			Help:      "Total number of worker threads handed to the idle flush installer",
		},
	)

	pc.installFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "threads",
			Name:      "post_failures_total",
			Help:      "Total number of posts to worker threads that failed",
		},
		[]string{"stage"},
	)

	pc.flushRearms = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "threads",
			Name:      "flush_rearms_total",
			Help:      "Total number of idle flush re-arm tasks executed",
		},
	)

	pc.poolDrains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "drains_total",
			Help:      "Total number of pool drain passes",
		},
		[]string{"pool"},
	)

	pc.poolIterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "drain_requests_total",
			Help:      "Total number of instances requested while draining pools",
		},
		[]string{"pool"},
	)

	pc.patchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "patch",
			Name:      "outcomes_total",
			Help:      "Patch apply outcomes by patch",
		},
		[]string{"patch", "outcome"},
	)

	pc.registry.MustRegister(
		pc.taskRuns,
		pc.taskDuration,
		pc.queueDepth,
		pc.scanCycles,
		pc.threadsSeen,
		pc.threadsFlushed,
		pc.installFailures,
		pc.flushRearms,
		pc.poolDrains,
		pc.poolIterations,
		pc.patchOutcomes,
	)

	return pc
}

// TaskRun records one execution of a scheduled task
func (pc *PrometheusCollector) TaskRun(task string, kind string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	pc.taskRuns.WithLabelValues(task, kind, status).Inc()
	pc.taskDuration.WithLabelValues(task, kind).Observe(duration.Seconds())
}

// TimerQueueDepth records the number of tasks waiting on the scheduler
func (pc *PrometheusCollector) TimerQueueDepth(depth int) {
	pc.queueDepth.Set(float64(depth))
}

// ScanCycle records one worker-thread discovery pass
func (pc *PrometheusCollector) ScanCycle(discovered, instrumented int) {
	pc.scanCycles.Inc()
	pc.threadsSeen.Add(float64(discovered))
	pc.threadsFlushed.Add(float64(instrumented))
}

// InstallFailure records a post that failed while instrumenting a thread
func (pc *PrometheusCollector) InstallFailure(stage string) {
	pc.installFailures.WithLabelValues(stage).Inc()
}

// FlushRearmed records a worker thread re-arming its idle flush
func (pc *PrometheusCollector) FlushRearmed() {
	pc.flushRearms.Inc()
}

// PoolDrained records one drain pass over a bounded pool
func (pc *PrometheusCollector) PoolDrained(pool string, iterations int) {
	pc.poolDrains.WithLabelValues(pool).Inc()
	pc.poolIterations.WithLabelValues(pool).Add(float64(iterations))
}

// PatchOutcome records the result of applying one patch
func (pc *PrometheusCollector) PatchOutcome(patch string, outcome string) {
	pc.patchOutcomes.WithLabelValues(patch, outcome).Inc()
}

// Registry returns the Prometheus registry for HTTP handler setup
func (pc *PrometheusCollector) Registry() *prometheus.Registry {
	return pc.registry
}

// Compile-time interface compliance check
var _ Collector = (*PrometheusCollector)(nil)

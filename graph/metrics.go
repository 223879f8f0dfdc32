package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides production-grade metrics for graph execution.
//
// It exposes the following metrics, all under the "tripgraph" namespace:
//   - step_latency_ms: Histogram of step durations by node and status
//   - steps_total: Counter of steps by node and status
//   - interrupts_total: Counter of pauses by interrupt node
//   - fanout_tasks: Histogram of fan-out widths
//   - fanout_failures_total: Counter of failed fan-outs by spawning node
//   - inflight_tasks: Gauge of fan-out tasks currently running
//
// Thread ids are never used as labels.
//
// Example:
//
//	metrics := graph.NewPrometheusMetrics(prometheus.DefaultRegisterer)
//	engine, err := graph.NewEngine(g, st, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.Handler())
type PrometheusMetrics struct {
	stepLatency    *prometheus.HistogramVec
	steps          *prometheus.CounterVec
	interrupts     *prometheus.CounterVec
	fanOutTasks    prometheus.Histogram
	fanOutFailures *prometheus.CounterVec
	inflightTasks  prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers the metrics with registry. A
// nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tripgraph",
		Name:      "step_latency_ms",
		Help:      "Step duration in milliseconds, from loading the checkpoint to routing",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"node_id", "status"}) // status: success, error

	pm.steps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripgraph",
		Name:      "steps_total",
		Help:      "Steps executed, by node and outcome",
	}, []string{"node_id", "status"})

	pm.interrupts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripgraph",
		Name:      "interrupts_total",
		Help:      "Times a thread paused before an interrupt node",
	}, []string{"node_id"})

	pm.fanOutTasks = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tripgraph",
		Name:      "fanout_tasks",
		Help:      "Number of tasks spawned per fan-out",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128
	})

	pm.fanOutFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripgraph",
		Name:      "fanout_failures_total",
		Help:      "Fan-outs in which at least one task failed",
	}, []string{"node_id"})

	pm.inflightTasks = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripgraph",
		Name:      "inflight_tasks",
		Help:      "Fan-out tasks currently executing",
	})

	return pm
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStep records the outcome and duration of one step.
func (pm *PrometheusMetrics) RecordStep(nodeID, status string, latency time.Duration) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
	pm.steps.WithLabelValues(nodeID, status).Inc()
}

// IncInterrupts counts a pause before nodeID.
func (pm *PrometheusMetrics) IncInterrupts(nodeID string) {
	if !pm.isEnabled() {
		return
	}
	pm.interrupts.WithLabelValues(nodeID).Inc()
}

// ObserveFanOut records the width of a fan-out.
func (pm *PrometheusMetrics) ObserveFanOut(tasks int) {
	if !pm.isEnabled() {
		return
	}
	pm.fanOutTasks.Observe(float64(tasks))
}

// IncFanOutFailures counts a failed fan-out spawned by nodeID.
func (pm *PrometheusMetrics) IncFanOutFailures(nodeID string) {
	if !pm.isEnabled() {
		return
	}
	pm.fanOutFailures.WithLabelValues(nodeID).Inc()
}

// TaskStarted increments the inflight task gauge.
func (pm *PrometheusMetrics) TaskStarted() {
	if !pm.isEnabled() {
		return
	}
	pm.inflightTasks.Inc()
}

// TaskFinished decrements the inflight task gauge.
func (pm *PrometheusMetrics) TaskFinished() {
	if !pm.isEnabled() {
		return
	}
	pm.inflightTasks.Dec()
}

// Disable stops metric collection. Useful for tests.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric collection.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.inflightTasks.Set(0)
}

package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricSubmissions    = "ingest_submissions_total"
	MetricViolations     = "ingest_rule_violations_total"
	MetricPipelineErrors = "ingest_pipeline_errors_total"
	MetricLatency        = "ingest_pipeline_latency_seconds"
)

// Metrics contains Prometheus metrics for the pipeline.
// All operations are thread-safe.
type Metrics struct {
	submissions    *prometheus.CounterVec
	violations     *prometheus.CounterVec
	pipelineErrors prometheus.Counter
	latency        prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSubmissions,
			Help: "Total number of submissions by final processing status",
		}, []string{"status"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricViolations,
			Help: "Total number of rule violations by rule identifier",
		}, []string{"rule"}),
		pipelineErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPipelineErrors,
			Help: "Total number of submissions that failed with an internal error",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricLatency,
			Help:    "Histogram of end-to-end pipeline latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.submissions,
		m.violations,
		m.pipelineErrors,
		m.latency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveSubmission records the final status of one processed submission.
func (m *Metrics) ObserveSubmission(status string, seconds float64) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(status).Inc()
	m.latency.Observe(seconds)
}

// IncViolation increments the violation counter for a rule.
func (m *Metrics) IncViolation(rule string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(rule).Inc()
}

// IncPipelineError increments the internal error counter.
func (m *Metrics) IncPipelineError() {
	if m == nil {
		return
	}
	m.pipelineErrors.Inc()
}

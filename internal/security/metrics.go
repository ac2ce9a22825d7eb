package security

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricEvents is the counter of recorded security events.
const MetricEvents = "security_events_total"

// Metrics contains Prometheus metrics for the security log.
type Metrics struct {
	events *prometheus.CounterVec
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEvents,
			Help: "Total number of security events recorded, by event type and severity",
		}, []string{"event_type", "severity"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.events)
}

// IncEvent increments the event counter. Nil-safe.
func (m *Metrics) IncEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, severity).Inc()
}

// InstrumentedRepository wraps a Repository and counts every recorded event.
type InstrumentedRepository struct {
	Repository
	metrics *Metrics
}

// NewInstrumentedRepository wraps repo so inserts increment the event counter.
func NewInstrumentedRepository(repo Repository, metrics *Metrics) *InstrumentedRepository {
	return &InstrumentedRepository{Repository: repo, metrics: metrics}
}

// Insert records the event and counts it. The counter moves even if listing
// later filters the event out; it tracks writes, not reads.
func (r *InstrumentedRepository) Insert(ctx context.Context, ev *Event) error {
	if err := r.Repository.Insert(ctx, ev); err != nil {
		return err
	}
	r.metrics.IncEvent(ev.EventType, ev.Severity)
	return nil
}

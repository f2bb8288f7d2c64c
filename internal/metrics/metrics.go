// Package metrics defines the Prometheus instruments for the scheduling engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "office_hours"

// Metrics holds the engine and relay instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Transitions counts engine operations by action and outcome.
	Transitions *prometheus.CounterVec

	// Conflicts counts overlap rejections by action.
	Conflicts *prometheus.CounterVec

	// NotificationFailures counts best-effort notifications that were dropped.
	NotificationFailures prometheus.Counter

	// RelayDelivered counts outbox rows published by the relay, by outcome.
	RelayDelivered *prometheus.CounterVec

	// OperationDuration is the latency of engine operations.
	OperationDuration *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "appointment_transitions_total",
				Help:      "Appointment lifecycle operations by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		Conflicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "appointment_conflicts_total",
				Help:      "Bookings rejected because the faculty slot overlaps a blocking appointment",
			},
			[]string{"action"},
		),
		NotificationFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_failures_total",
				Help:      "Notifications that could not be enqueued",
			},
		),
		RelayDelivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_relay_total",
				Help:      "Outbox notifications processed by the relay",
			},
			[]string{"outcome"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "appointment_operation_duration_seconds",
				Help:      "Latency of appointment engine operations",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"action"},
		),
	}
}

func (m *Metrics) ObserveTransition(action, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(action, outcome).Inc()
	m.OperationDuration.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

func (m *Metrics) IncConflict(action string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(action).Inc()
}

func (m *Metrics) IncNotificationFailure() {
	if m == nil {
		return
	}
	m.NotificationFailures.Inc()
}

func (m *Metrics) IncRelay(outcome string) {
	if m == nil {
		return
	}
	m.RelayDelivered.WithLabelValues(outcome).Inc()
}

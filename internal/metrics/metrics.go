// Package metrics holds the Prometheus collectors for transitions and payment calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	transitions     *prometheus.CounterVec
	payments        *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil *Metrics is valid and records nothing.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livesession",
			Name:      "transitions_total",
			Help:      "Session transition requests by target status and result.",
		}, []string{"target", "result"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livesession",
			Name:      "payment_operations_total",
			Help:      "Capture, release, confirm and reconcile outcomes.",
		}, []string{"operation", "result"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "livesession",
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of payment processor calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.transitions, m.payments, m.gatewayDuration)
	return m
}

func (m *Metrics) Transition(target, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(target, result).Inc()
}

func (m *Metrics) Payment(operation, result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ObserveGateway(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

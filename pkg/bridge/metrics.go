// Copyright 2024-2026 Aiku AI

package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for both bridge directions. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Outbound          *prometheus.CounterVec
	Inbound           *prometheus.CounterVec
	TransportDuration *prometheus.HistogramVec
}

// NewMetrics registers the bridge metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "federation_bridge_outbound_total",
			Help: "Local events handled by the outbound adapter by operation and result",
		}, []string{"operation", "result"}),

		Inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "federation_bridge_inbound_total",
			Help: "Federation events handled by the inbound adapter by event type and result",
		}, []string{"event_type", "result"}),

		TransportDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "federation_bridge_transport_duration_seconds",
			Help:    "Duration of federation transport requests by operation",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveOutbound records the result of an outbound operation.
func (m *Metrics) ObserveOutbound(operation string, err error) {
	if m != nil {
		m.Outbound.WithLabelValues(operation, resultLabel(err)).Inc()
	}
}

// ObserveInbound records the result of an inbound handler.
func (m *Metrics) ObserveInbound(evtType EventType, result string) {
	if m != nil {
		m.Inbound.WithLabelValues(string(evtType), result).Inc()
	}
}

// ObserveTransport records the duration of one transport request.
func (m *Metrics) ObserveTransport(operation string, d time.Duration) {
	if m != nil {
		m.TransportDuration.WithLabelValues(operation).Observe(d.Seconds())
	}
}

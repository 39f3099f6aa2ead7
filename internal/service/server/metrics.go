package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type chatMetrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	messagesDelivered prometheus.Counter
	messagesStored    prometheus.Counter
	sendsRejected     *prometheus.CounterVec
	frameErrors       prometheus.Counter
}

func newChatMetrics(reg prometheus.Registerer) *chatMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &chatMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fitchat_connections_active",
			Help: "Current number of live chat connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitchat_connections_total",
			Help: "Total chat connections admitted since start.",
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitchat_messages_delivered_total",
			Help: "Messages pushed to a live receiver connection.",
		}),
		messagesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitchat_messages_stored_total",
			Help: "Message envelopes persisted.",
		}),
		sendsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitchat_sends_rejected_total",
			Help: "Send frames rejected, grouped by reason.",
		}, []string{"reason"}),
		frameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitchat_frame_errors_total",
			Help: "Malformed or unprocessable inbound frames.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.messagesDelivered,
		m.messagesStored,
		m.sendsRejected,
		m.frameErrors,
	)
	return m
}

func (m *chatMetrics) incConnection() {
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *chatMetrics) decConnection() {
	m.activeConnections.Dec()
}

func (m *chatMetrics) recordRejection(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.sendsRejected.WithLabelValues(reason).Inc()
}

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections        prometheus.Gauge
	evictions          prometheus.Counter
	authRejections     *prometheus.CounterVec
	framesReceived     *prometheus.CounterVec
	framesSent         *prometheus.CounterVec
	malformedFrames    prometheus.Counter
	messagesRelayed    prometheus.Counter
	deliveries         prometheus.Counter
	deliveryMisses     prometheus.Counter
	presenceBroadcasts prometheus.Counter
	onlineUsers        prometheus.Gauge
}

// NewMetrics creates collectors registered on a private registry, so several
// servers can coexist in one process (tests)
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storechat_connections",
			Help: "Registered WebSocket connections",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storechat_connection_evictions_total",
			Help: "Connections closed because the same user connected again",
		}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storechat_auth_rejections_total",
			Help: "Rejected authentication attempts by surface",
		}, []string{"surface"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storechat_frames_received_total",
			Help: "Inbound frames by type",
		}, []string{"type"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storechat_frames_sent_total",
			Help: "Outbound frames queued by type",
		}, []string{"type"}),
		malformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storechat_malformed_frames_total",
			Help: "Inbound frames rejected as malformed",
		}),
		messagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storechat_messages_relayed_total",
			Help: "Chat messages persisted and fanned out",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storechat_message_deliveries_total",
			Help: "NEW_MESSAGE pushes to online recipients",
		}),
		deliveryMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storechat_message_delivery_misses_total",
			Help: "Recipients that were offline when a message was relayed",
		}),
		presenceBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storechat_presence_broadcasts_total",
			Help: "ONLINE_USERS broadcast passes",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storechat_online_users",
			Help: "Size of the last broadcast online set",
		}),
	}

	reg.MustRegister(
		m.connections,
		m.evictions,
		m.authRejections,
		m.framesReceived,
		m.framesSent,
		m.malformedFrames,
		m.messagesRelayed,
		m.deliveries,
		m.deliveryMisses,
		m.presenceBroadcasts,
		m.onlineUsers,
	)

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordConnections(count int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(count))
}

func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) RecordAuthRejected(surface string) {
	if m == nil {
		return
	}
	m.authRejections.WithLabelValues(surface).Inc()
}

func (m *Metrics) RecordFrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(frameType).Inc()
}

func (m *Metrics) RecordFrameSent(frameType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(frameType).Inc()
}

func (m *Metrics) RecordMalformedFrame() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}

func (m *Metrics) RecordMessageRelayed(delivered, missed int) {
	if m == nil {
		return
	}
	m.messagesRelayed.Inc()
	m.deliveries.Add(float64(delivered))
	m.deliveryMisses.Add(float64(missed))
}

func (m *Metrics) RecordPresenceBroadcast(online int) {
	if m == nil {
		return
	}
	m.presenceBroadcasts.Inc()
	m.onlineUsers.Set(float64(online))
}

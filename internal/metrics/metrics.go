// Package metrics exposes Prometheus collectors for the RTMP service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	handshakeFailures prometheus.Counter
	rejectedAccepts   prometheus.Counter
	bytesReceived     prometheus.Counter
	bytesSent         prometheus.Counter
	framesDropped     prometheus.Counter

	sessionEvents  *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	streamsActive  *prometheus.GaugeVec
	relayRuns      *prometheus.CounterVec
}

// New creates a collector with every metric registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtmpsess_connections_active",
			Help: "Number of open RTMP connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtmpsess_connections_total",
			Help: "Total number of accepted RTMP connections",
		}),
		handshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtmpsess_handshake_failures_total",
			Help: "Total number of failed RTMP handshakes",
		}),
		rejectedAccepts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtmpsess_connections_throttled_total",
			Help: "Connections closed because the accept rate was exceeded",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtmpsess_message_bytes_received_total",
			Help: "Total RTMP message payload bytes received",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtmpsess_message_bytes_sent_total",
			Help: "Total RTMP message payload bytes sent",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtmpsess_frames_dropped_total",
			Help: "Frames dropped because a player fell behind",
		}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtmpsess_session_events_total",
			Help: "Session events raised, by event name",
		}, []string{"event"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtmpsess_protocol_errors_total",
			Help: "Session errors, by error kind",
		}, []string{"kind"}),
		streamsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtmpsess_streams_active",
			Help: "Active streams, by role",
		}, []string{"role"}),
		relayRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rtmpsess_relay_runs_total",
			Help: "Finished relay connections, by mode and result",
		}, []string{"mode", "result"}),
	}

	c.registry.MustRegister(
		c.connectionsActive,
		c.connectionsTotal,
		c.handshakeFailures,
		c.rejectedAccepts,
		c.bytesReceived,
		c.bytesSent,
		c.framesDropped,
		c.sessionEvents,
		c.protocolErrors,
		c.streamsActive,
		c.relayRuns,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ConnectionOpened counts an accepted RTMP connection.
func (c *Collector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

// ConnectionClosed lowers the active connection gauge.
func (c *Collector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// HandshakeFailed counts a connection dropped during the handshake.
func (c *Collector) HandshakeFailed() {
	c.handshakeFailures.Inc()
}

// AcceptThrottled counts a connection closed by the accept limiter.
func (c *Collector) AcceptThrottled() {
	c.rejectedAccepts.Inc()
}

// BytesReceived adds inbound message payload bytes.
func (c *Collector) BytesReceived(n int) {
	c.bytesReceived.Add(float64(n))
}

// BytesSent adds outbound message payload bytes.
func (c *Collector) BytesSent(n int) {
	c.bytesSent.Add(float64(n))
}

// FramesDropped adds frames a slow subscriber lost.
func (c *Collector) FramesDropped(n uint64) {
	c.framesDropped.Add(float64(n))
}

// SessionEvent counts one session event by name.
func (c *Collector) SessionEvent(name string) {
	c.sessionEvents.WithLabelValues(name).Inc()
}

// ProtocolError counts one session error by kind.
func (c *Collector) ProtocolError(kind string) {
	c.protocolErrors.WithLabelValues(kind).Inc()
}

// StreamStarted and StreamEnded track active streams per role.
func (c *Collector) StreamStarted(role string) {
	c.streamsActive.WithLabelValues(role).Inc()
}

func (c *Collector) StreamEnded(role string) {
	c.streamsActive.WithLabelValues(role).Dec()
}

// RelayRun counts one finished relay connection. Result is "ok" or "error".
func (c *Collector) RelayRun(mode string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.relayRuns.WithLabelValues(mode, result).Inc()
}

package realtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics 基于 Prometheus 的 Metrics 实现
type PrometheusMetrics struct {
	connections         prometheus.Gauge
	connectionsTotal    prometheus.Counter
	rejectedConnections *prometheus.CounterVec
	deadConnections     prometheus.Counter

	messages        *prometheus.CounterVec
	messageLatency  *prometheus.HistogramVec
	messageErrors   *prometheus.CounterVec
	invalidMessages prometheus.Counter
	rateLimited     *prometheus.CounterVec
	duplicateSends  prometheus.Counter

	rooms            prometheus.Gauge
	broadcastLatency prometheus.Histogram
	droppedMessages  prometheus.Counter

	presenceTransitions *prometheus.CounterVec
	offlineEnqueued     prometheus.Counter
	offlineDelivered    prometheus.Counter

	readErrors  prometheus.Counter
	writeErrors prometheus.Counter
}

const (
	metricsNamespace = "linkup"
	metricsSubsystem = "realtime"
)

// NewPrometheusMetrics 创建并注册实时核心指标
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections",
			Help:      "Current number of live connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),
		rejectedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rejected_connections_total",
			Help:      "Handshakes rejected, by reason",
		}, []string{"reason"}),
		deadConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dead_connections_total",
			Help:      "Connections closed by the liveness sweep",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_total",
			Help:      "Inbound envelopes dispatched, by kind",
		}, []string{"kind"}),
		messageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "message_duration_seconds",
			Help:      "Time spent handling an inbound envelope",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"kind"}),
		messageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "message_errors_total",
			Help:      "Inbound envelopes answered with an error, by kind",
		}, []string{"kind"}),
		invalidMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "invalid_messages_total",
			Help:      "Malformed inbound frames",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rate_limited_total",
			Help:      "Requests denied by a rate limiter, by stage",
		}, []string{"stage"}),
		duplicateSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "duplicate_sends_total",
			Help:      "Replayed send-message intents answered from storage",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rooms",
			Help:      "Current number of non-empty rooms",
		}),
		broadcastLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "broadcast_duration_seconds",
			Help:      "Time spent fanning out a room broadcast",
			Buckets:   prometheus.DefBuckets,
		}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dropped_messages_total",
			Help:      "Outbound frames dropped because a send buffer was full",
		}),
		presenceTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "presence_transitions_total",
			Help:      "Announced presence changes, by status",
		}, []string{"status"}),
		offlineEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "offline_enqueued_total",
			Help:      "Envelopes queued for unreachable users",
		}),
		offlineDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "offline_delivered_total",
			Help:      "Queued envelopes delivered on reconnect",
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "read_errors_total",
			Help:      "Transport read failures",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "write_errors_total",
			Help:      "Transport write failures",
		}),
	}

	reg.MustRegister(
		m.connections,
		m.connectionsTotal,
		m.rejectedConnections,
		m.deadConnections,
		m.messages,
		m.messageLatency,
		m.messageErrors,
		m.invalidMessages,
		m.rateLimited,
		m.duplicateSends,
		m.rooms,
		m.broadcastLatency,
		m.droppedMessages,
		m.presenceTransitions,
		m.offlineEnqueued,
		m.offlineDelivered,
		m.readErrors,
		m.writeErrors,
	)
	return m
}

func (m *PrometheusMetrics) IncrementConnections() {
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

func (m *PrometheusMetrics) DecrementConnections()        { m.connections.Dec() }
func (m *PrometheusMetrics) SetConnectionCount(count int) { m.connections.Set(float64(count)) }
func (m *PrometheusMetrics) IncrementDeadConnections()    { m.deadConnections.Inc() }
func (m *PrometheusMetrics) IncrementInvalidMessages()    { m.invalidMessages.Inc() }
func (m *PrometheusMetrics) IncrementDuplicateSends()     { m.duplicateSends.Inc() }
func (m *PrometheusMetrics) SetRoomCount(count int)       { m.rooms.Set(float64(count)) }
func (m *PrometheusMetrics) IncrementDroppedMessages()    { m.droppedMessages.Inc() }
func (m *PrometheusMetrics) IncrementOfflineEnqueued()    { m.offlineEnqueued.Inc() }
func (m *PrometheusMetrics) AddOfflineDelivered(n int)    { m.offlineDelivered.Add(float64(n)) }
func (m *PrometheusMetrics) IncrementReadErrors()         { m.readErrors.Inc() }
func (m *PrometheusMetrics) IncrementWriteErrors()        { m.writeErrors.Inc() }
func (m *PrometheusMetrics) RecordBroadcastLatency(d time.Duration) {
	m.broadcastLatency.Observe(d.Seconds())
}

func (m *PrometheusMetrics) IncrementRejectedConnections(reason string) {
	m.rejectedConnections.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) IncrementMessageCount(kind string) {
	m.messages.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) RecordMessageLatency(kind string, d time.Duration) {
	m.messageLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *PrometheusMetrics) IncrementMessageErrors(kind string) {
	m.messageErrors.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) IncrementRateLimited(stage string) {
	m.rateLimited.WithLabelValues(stage).Inc()
}

func (m *PrometheusMetrics) IncrementPresenceTransitions(status string) {
	m.presenceTransitions.WithLabelValues(status).Inc()
}

package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the pusher server, scraped via GET /metrics.
var (
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusher_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pusher_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusher_connections_failed_total",
		Help: "Total number of rejected or failed connection attempts",
	})

	subscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pusher_subscriptions_active",
		Help: "Current number of channel subscriptions across all channels",
	})

	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusher_messages_sent_total",
		Help: "Total number of frames written to clients",
	})

	messagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusher_messages_received_total",
		Help: "Total number of frames read from clients",
	})

	bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusher_bytes_sent_total",
		Help: "Total number of payload bytes written to clients",
	})

	bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusher_bytes_received_total",
		Help: "Total number of payload bytes read from clients",
	})

	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pusher_events_published_total",
		Help: "Total channel events published, by source",
	}, []string{"source"})

	eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pusher_events_dropped_total",
		Help: "Total events dropped on full subscriber queues, by channel",
	}, []string{"channel"})

	authFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pusher_auth_failures_total",
		Help: "Total authentication failures, by kind",
	}, []string{"kind"})

	rateLimitedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pusher_rate_limited_messages_total",
		Help: "Total inbound frames dropped by the per-client rate limit",
	})

	connectionRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pusher_connection_rate_limited_total",
		Help: "Total connection attempts rejected by rate limiting, by scope",
	}, []string{"scope"})
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		connectionsActive,
		ConnectionsFailed,
		subscriptionsActive,
		messagesSent,
		messagesReceived,
		bytesSent,
		bytesReceived,
		eventsPublished,
		eventsDropped,
		authFailures,
		rateLimitedMessages,
		connectionRateLimited,
	)
}

// RecordConnect tracks an accepted WebSocket connection.
func RecordConnect() {
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

// RecordDisconnect tracks a closed WebSocket connection.
func RecordDisconnect() {
	connectionsActive.Dec()
}

// RecordFrameSent tracks one outbound frame.
func RecordFrameSent(bytes int) {
	messagesSent.Inc()
	bytesSent.Add(float64(bytes))
}

// RecordFrameReceived tracks one inbound frame.
func RecordFrameReceived(bytes int) {
	messagesReceived.Inc()
	bytesReceived.Add(float64(bytes))
}

// RecordPublishedEvent tracks one published channel event. Source is
// "http", "client" or "nats".
func RecordPublishedEvent(source string) {
	eventsPublished.WithLabelValues(source).Inc()
}

// RecordDroppedEvent tracks an event dropped on a full subscriber queue.
func RecordDroppedEvent(channel string) {
	eventsDropped.WithLabelValues(channel).Inc()
}

// RecordAuthFailure tracks a failed authentication. Kind is
// "signature", "app_key", "app_id" or "channel_auth".
func RecordAuthFailure(kind string) {
	authFailures.WithLabelValues(kind).Inc()
}

// IncrementRateLimitedMessages tracks an inbound frame dropped by the
// per-client rate limit.
func IncrementRateLimitedMessages() {
	rateLimitedMessages.Inc()
}

// IncrementConnectionRateLimit tracks a rate-limited connection attempt.
// Scope is "global" or "per_ip".
func IncrementConnectionRateLimit(scope string) {
	connectionRateLimited.WithLabelValues(scope).Inc()
}

// SetSubscriptions updates the live subscription gauge.
func SetSubscriptions(n int) {
	subscriptionsActive.Set(float64(n))
}

// HandleMetrics serves the Prometheus scrape endpoint.
func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// Package metrics is the Prometheus surface for the chat service: a
// handful of counters/gauges/histograms over connections, fan-out, and
// store latency, registered once and exposed over /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_connections_total",
		Help: "Total number of WebSocket upgrade attempts.",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_connections_active",
		Help: "Number of currently active sessions.",
	})
	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_connections_rejected_total",
		Help: "Upgrade attempts rejected before a session was created, by reason.",
	}, []string{"reason"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_sent_total",
		Help: "Total chat events published via the Send API.",
	})
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_broadcasts_total",
		Help: "Total chat events handed to the Fan-out Manager.",
	})
	SubscriberDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_subscriber_drops_total",
		Help: "Events evicted from a subscriber queue because it could not keep up.",
	})
	SessionsLaggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_sessions_lagged_total",
		Help: "Sessions closed with the lagged status after a subscriber overflow.",
	})

	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatcore_store_latency_seconds",
		Help:    "Latency of Message Store operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	ConsumerLagMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_consumer_lag_messages",
		Help: "Estimated number of unconsumed messages on the event bus topic.",
	})

	InboundRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_inbound_rate_limited_total",
		Help: "Inbound WebSocket commands dropped by the per-client rate limiter.",
	})
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

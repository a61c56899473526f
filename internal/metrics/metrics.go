// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection and presence counts, counters for message
// and resolver throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of users with at least one live
	// session.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Current number of online users",
	})

	// MessagesTotal counts the total number of messages processed, labeled by
	// conversation scope: "global" or "direct".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of messages processed",
	}, []string{"scope"}) // scope = "global", "direct"

	// MessageLatency records message processing latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_message_latency_seconds",
		Help:    "Message processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MessagesRejected counts messages refused by the send path, labeled by
	// reason.
	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_rejected_total",
		Help: "Total number of messages rejected before storage",
	}, []string{"reason"}) // reason = "spam", "not_participant", "invalid"

	// ResolveTotal counts direct-conversation resolutions by outcome:
	// "existing", "created", or "rejected".
	ResolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_conversation_resolve_total",
		Help: "Total number of direct conversation resolutions",
	}, []string{"outcome"}) // outcome = "existing", "created", "rejected"

	// ResolveLatency records conversation resolution latency in seconds.
	ResolveLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_conversation_resolve_seconds",
		Help:    "Direct conversation resolution latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// PresenceEvents counts presence transitions, labeled "online" or
	// "offline".
	PresenceEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_presence_events_total",
		Help: "Total number of presence transitions",
	}, []string{"transition"}) // transition = "online", "offline"

	// SweepReaped counts sessions taken offline by the presence sweeper.
	SweepReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_presence_sweep_reaped_total",
		Help: "Total number of expired sessions reaped by the presence sweeper",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		MessageLatency,
		MessagesRejected,
		ResolveTotal,
		ResolveLatency,
		PresenceEvents,
		SweepReaped,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

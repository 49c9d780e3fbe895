// Package metrics provides Prometheus instrumentation for the room server.
// It exposes gauges for connections and participants, counters for message
// throughput and moderation outcomes, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open WebSocket connections,
	// admitted or not.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hushroom_connections_total",
		Help: "Current number of open WebSocket connections",
	})

	// OnlineUsers tracks the number of admitted participants.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hushroom_online_users",
		Help: "Current number of admitted participants",
	})

	// MessagesTotal counts submitted messages by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hushroom_messages_total",
		Help: "Total number of messages processed",
	}, []string{"type"}) // type = "received", "sent", "flagged", "dropped"

	// MessageLatency records submit-to-broadcast latency in seconds,
	// moderation included.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hushroom_message_latency_seconds",
		Help:    "Message processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// ModerationLatency records remote classifier call duration.
	ModerationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hushroom_moderation_latency_seconds",
		Help:    "Remote moderation call latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5},
	})

	// ModerationFallbacks counts verdicts produced by the local denylist
	// because the remote classifier could not answer.
	ModerationFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hushroom_moderation_fallbacks_total",
		Help: "Moderation verdicts served by the fallback classifier",
	}, []string{"cause"}) // cause = "unconfigured", "timeout", "error"

	// AdmissionsTotal counts join attempts by result.
	AdmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hushroom_admissions_total",
		Help: "Join attempts by result",
	}, []string{"result"}) // result = "admitted", "invalid", "taken", "banned"

	// KicksTotal counts admin kicks.
	KicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hushroom_kicks_total",
		Help: "Participants removed by an admin",
	})

	// SlowConsumers counts connections closed because their outbound queue
	// was full.
	SlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hushroom_slow_consumers_total",
		Help: "Connections closed because their send queue overflowed",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		MessageLatency,
		ModerationLatency,
		ModerationFallbacks,
		AdmissionsTotal,
		KicksTotal,
		SlowConsumers,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

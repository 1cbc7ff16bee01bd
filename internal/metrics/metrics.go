// Package metrics provides Prometheus instrumentation for the chat core.
// It exposes gauges for connection and presence counts, counters for
// message and disclosure throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of users in the presence registry.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_online_users",
		Help: "Current number of users with a live connection",
	})

	// MessagesTotal counts processed sends, labeled by outcome:
	// "sent", "delivered", "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_messages_total",
		Help: "Total number of message sends processed",
	}, []string{"outcome"})

	// MessagesRead counts messages flipped to read by read receipts.
	MessagesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_read_total",
		Help: "Total number of messages marked read",
	})

	// SendLatency records end-to-end send pipeline latency in seconds,
	// from validation through persistence and fan-out.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatcore_send_latency_seconds",
		Help:    "Message send pipeline latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// MatchesExpired counts conversations flipped by the expiry sweep.
	MatchesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_matches_expired_total",
		Help: "Total number of matches marked expired by the sweep",
	})

	// SweepDuration records the duration of each expiry sweep batch.
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatcore_sweep_duration_seconds",
		Help:    "Expiry sweep batch duration in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// DisclosureUnlocks counts level transitions, labeled by the level
	// reached ("2" or "3").
	DisclosureUnlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_disclosure_unlocks_total",
		Help: "Total number of disclosure level unlocks",
	}, []string{"level"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		MessagesRead,
		SendLatency,
		MatchesExpired,
		SweepDuration,
		DisclosureUnlocks,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

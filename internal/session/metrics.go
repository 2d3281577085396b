package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_started_total",
		Help: "Checkout sessions started, by gateway type.",
	}, []string{"gateway_type"})

	sessionsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_completed_total",
		Help: "Checkout sessions that reached a terminal state, by outcome.",
	}, []string{"outcome"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_session_duration_seconds",
		Help:    "Time from Start to the terminal state.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	bridgeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_bridge_events_total",
		Help: "Bridge events seen by sessions, by kind.",
	}, []string{"kind"})
)

// GetSessionsCompletedTotal exposes the completion counter for tests.
func GetSessionsCompletedTotal() *prometheus.CounterVec { return sessionsCompletedTotal }

// GetSessionsStartedTotal exposes the start counter for tests.
func GetSessionsStartedTotal() *prometheus.CounterVec { return sessionsStartedTotal }

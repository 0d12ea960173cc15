// Package metrics provides Prometheus instrumentation for the voicematch
// client. It exposes gauges for signaling connectivity and call state,
// counters for match and voice-join outcomes, and a histogram for queue wait
// time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SignalingConnected is 1 while the signaling channel is connected.
	SignalingConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voicematch_signaling_connected",
		Help: "Whether the signaling channel is currently connected (0 or 1)",
	})

	// SignalingReconnectsTotal counts reconnection attempts after a dropped
	// signaling connection.
	SignalingReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voicematch_signaling_reconnects_total",
		Help: "Total number of signaling reconnection attempts",
	})

	// MatchesFoundTotal counts successful matches.
	MatchesFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voicematch_matches_found_total",
		Help: "Total number of matches found",
	})

	// MatchWaitSeconds records the time spent in the searching phase before
	// a match was found.
	MatchWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicematch_match_wait_seconds",
		Help:    "Time spent searching before a match was found",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 45, 60},
	})

	// CallsEndedTotal counts ended calls, labeled by end reason: "timer",
	// "partner_left" or "self_left".
	CallsEndedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicematch_calls_ended_total",
		Help: "Total number of ended calls by reason",
	}, []string{"reason"})

	// CallActive is 1 while a call is in the active phase.
	CallActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voicematch_call_active",
		Help: "Whether a call is currently active (0 or 1)",
	})

	// VoiceJoinAttemptsTotal counts voice channel join attempts, including
	// retries.
	VoiceJoinAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voicematch_voice_join_attempts_total",
		Help: "Total number of voice channel join attempts including retries",
	})

	// VoiceJoinFailuresTotal counts terminal voice join failures, labeled by
	// kind: "credentials", "media" or "transport".
	VoiceJoinFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicematch_voice_join_failures_total",
		Help: "Total number of terminal voice join failures by kind",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		SignalingConnected,
		SignalingReconnectsTotal,
		MatchesFoundTotal,
		MatchWaitSeconds,
		CallsEndedTotal,
		CallActive,
		VoiceJoinAttemptsTotal,
		VoiceJoinFailuresTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics exposes the bridge's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveCalls tracks currently bridged calls.
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebridge_active_calls",
		Help: "Number of currently active call sessions.",
	})

	// CallsTotal counts calls by final outcome.
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_calls_total",
		Help: "Completed calls by outcome.",
	}, []string{"outcome"})

	// BargeIns counts user interruptions of AI playback.
	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebridge_barge_ins_total",
		Help: "Barge-in interruptions triggered.",
	})

	// DroppedFrames counts malformed or stale units dropped without
	// terminating the session.
	DroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_dropped_frames_total",
		Help: "Frames dropped by reason (malformed, stale_generation).",
	}, []string{"reason"})

	// RegistryRejections counts calls refused before a session started.
	RegistryRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebridge_registry_rejections_total",
		Help: "Calls rejected by the registry (duplicate, capacity).",
	}, []string{"reason"})
)

// Outcome labels for CallsTotal.
const (
	OutcomeCompleted      = "completed"
	OutcomeBackendFailure = "backend_failure"
	OutcomeTelephonyDrop  = "telephony_drop"
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics exposes Prometheus instrumentation for sessions and grading.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	gradingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkwell_grading_duration_seconds",
			Help:    "Grading call duration in seconds by layer and status",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"layer", "status"},
	)

	gradingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_grading_failures_total",
			Help: "Grading failures by failure kind",
		},
		[]string{"kind"},
	)

	phaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_phase_transitions_total",
			Help: "Session phase transitions by source and target phase",
		},
		[]string{"from", "to"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkwell_active_sessions",
			Help: "Number of sessions currently held in memory",
		},
	)

	rejectedSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_rejected_submissions_total",
			Help: "Draft submissions rejected before grading, by reason",
		},
		[]string{"reason"},
	)
)

// ObserveGrading records the duration of one grading call.
func ObserveGrading(layer, status string, d time.Duration) {
	gradingDuration.WithLabelValues(layer, status).Observe(d.Seconds())
}

// RecordGradingFailure counts a grading failure of the given kind.
func RecordGradingFailure(kind string) {
	gradingFailures.WithLabelValues(kind).Inc()
}

// RecordTransition counts a phase transition.
func RecordTransition(from, to string) {
	phaseTransitions.WithLabelValues(from, to).Inc()
}

// SetActiveSessions reports the number of in-memory sessions.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordRejectedSubmission counts a submission refused before grading.
func RecordRejectedSubmission(reason string) {
	rejectedSubmissions.WithLabelValues(reason).Inc()
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

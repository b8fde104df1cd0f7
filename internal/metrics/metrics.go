package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-level Prometheus collectors
type Metrics struct {
	SessionsStarted  prometheus.Counter
	SessionsEnded    prometheus.Counter
	ActiveSessions   prometheus.Gauge
	ChunksAnalyzed   prometheus.Counter
	DetectionsByKind *prometheus.CounterVec
	AssessmentsByLevel *prometheus.CounterVec
	AlertsDispatched prometheus.Counter
	DegradedResults  prometheus.Counter
}

// New registers the collectors on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "callguard_sessions_started_total",
			Help: "Call sessions created.",
		}),
		SessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "callguard_sessions_ended_total",
			Help: "Call sessions that reached a terminal state.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callguard_active_sessions",
			Help: "Live call sessions currently tracked.",
		}),
		ChunksAnalyzed: factory.NewCounter(prometheus.CounterOpts{
			Name: "callguard_chunks_analyzed_total",
			Help: "Audio/transcript chunks run through the detector fan-out.",
		}),
		DetectionsByKind: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callguard_detections_total",
			Help: "Positive detections by detector.",
		}, []string{"detector"}),
		AssessmentsByLevel: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callguard_assessments_total",
			Help: "Risk assessments computed, by resulting level.",
		}, []string{"level"}),
		AlertsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "callguard_alerts_dispatched_total",
			Help: "Scam warnings dispatched to callers.",
		}),
		DegradedResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "callguard_degraded_results_total",
			Help: "Detector rounds that fell back to a degraded result.",
		}),
	}
}

// NewDefault registers on the default Prometheus registry
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

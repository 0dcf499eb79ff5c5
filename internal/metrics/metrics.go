package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onboarding_sessions_active",
		Help: "Currently active onboarding sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_sessions_total",
		Help: "Total onboarding sessions started",
	})

	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_sessions_completed_total",
		Help: "Sessions that verified all documents",
	})

	StageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_stage_transitions_total",
		Help: "Stage advances by destination stage",
	}, []string{"stage"})

	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_verdicts_total",
		Help: "Verification outcomes by category and outcome",
	}, []string{"category", "outcome"})

	StaleVerdicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_stale_verdicts_total",
		Help: "Verdicts discarded because they did not match the current stage",
	})

	OracleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oracle_duration_seconds",
		Help:    "Document verification latency by backend",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 20, 30},
	}, []string{"backend"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Fallback voice path latency per stage",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	NarrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "onboarding_narration_duration_seconds",
		Help:    "Time from cancel to turn completion for a verification narration",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13},
	})

	TurnTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_turn_timeouts_total",
		Help: "Narrations that never signalled turn completion",
	})

	MicFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_mic_frames_dropped_total",
		Help: "Microphone frames dropped while the conversation was busy",
	})

	DeltasSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_deltas_suppressed_total",
		Help: "Streamed deltas withheld from the client while busy",
	}, []string{"kind"})

	FallbackActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_fallback_activations_total",
		Help: "Sessions switched to the batch voice path, by reason",
	}, []string{"reason"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})
)

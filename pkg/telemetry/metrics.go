package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Probe metrics
	ProbeChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetprobe",
			Subsystem: "probe",
			Name:      "checks_total",
			Help:      "Total number of single-shot probe evaluations",
		},
		[]string{"probe", "result"}, // result: "success", "negative", "failure"
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meetprobe",
			Subsystem: "poll",
			Name:      "duration_seconds",
			Help:      "Time spent waiting for a readiness condition",
			Buckets:   prometheus.LinearBuckets(0, 5, 13), // 0s to 60s
		},
		[]string{"probe", "status"},
	)

	InboundBitrate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meetprobe",
			Subsystem: "media",
			Name:      "inbound_bitrate_kbps",
			Help:      "Most recently observed download bitrate",
		},
	)

	// Run metrics
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetprobe",
			Subsystem: "run",
			Name:      "phase_transitions_total",
			Help:      "Total number of session controller state transitions",
		},
		[]string{"state"},
	)

	RunOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetprobe",
			Subsystem: "run",
			Name:      "outcomes_total",
			Help:      "Final disposition of completed runs",
		},
		[]string{"disposition"},
	)

	TeardownFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetprobe",
			Subsystem: "run",
			Name:      "teardown_failures_total",
			Help:      "Best-effort teardown steps that failed",
		},
		[]string{"step"}, // "disconnect", "release"
	)

	// Browser metrics
	BrowserScripts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetprobe",
			Subsystem: "browser",
			Name:      "scripts_total",
			Help:      "Scripts executed in the remote browser by outcome",
		},
		[]string{"outcome"}, // "ok", "driver_error", "cancelled", "fatal"
	)

	BrowserScriptLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "meetprobe",
			Subsystem: "browser",
			Name:      "script_latency_seconds",
			Help:      "Round trip latency of remote script execution",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meetprobe",
			Subsystem: "browser",
			Name:      "sessions_active",
			Help:      "Number of live remote browser sessions",
		},
	)

	// Event fan-out metrics
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "meetprobe",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Telemetry events dropped because a subscriber fell behind",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetprobe",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Telemetry events forwarded to external sinks",
		},
		[]string{"sink", "result"},
	)
)

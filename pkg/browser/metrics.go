package browser

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/meetprobe/pkg/telemetry"
)

// Metrics tracks browser runtime counters and mirrors them to Prometheus
// and the telemetry hub. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsCreated atomic.Int64
	SessionsClosed  atomic.Int64
	ActiveSessions  atomic.Int64

	NavigateCount atomic.Int64
	ScriptCount   atomic.Int64
	ScriptErrors  atomic.Int64

	ScriptLatencySum   atomic.Int64 // nanoseconds
	ScriptLatencyCount atomic.Int64

	mu    sync.RWMutex
	hub   *telemetry.Hub
	runID string
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// EnableTelemetry wires the collector to a telemetry hub.
func (m *Metrics) EnableTelemetry(hub *telemetry.Hub, runID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.hub = hub
	m.runID = runID
	m.mu.Unlock()
}

// RecordSessionCreated increments session creation counters.
func (m *Metrics) RecordSessionCreated(sessionID string) {
	if m == nil {
		return
	}
	m.SessionsCreated.Add(1)
	m.ActiveSessions.Add(1)
	telemetry.ActiveSessions.Inc()
	m.publishEvent(telemetry.EventBrowserSessionCreated, sessionID, nil)
}

// RecordSessionClosed increments session close counters.
func (m *Metrics) RecordSessionClosed(sessionID string) {
	if m == nil {
		return
	}
	m.SessionsClosed.Add(1)
	m.ActiveSessions.Add(-1)
	telemetry.ActiveSessions.Dec()
	m.publishEvent(telemetry.EventBrowserSessionClosed, sessionID, nil)
}

// RecordNavigate records a navigation and its latency.
func (m *Metrics) RecordNavigate(sessionID, url string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.NavigateCount.Add(1)
	data := map[string]any{
		"url":        url,
		"latency_ms": latency.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	m.publishEvent(telemetry.EventBrowserNavigate, sessionID, data)
}

// RecordScript records one script execution. outcome is "ok",
// "driver_error", "cancelled" or "fatal".
func (m *Metrics) RecordScript(sessionID, outcome string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.ScriptCount.Add(1)
	m.ScriptLatencySum.Add(latency.Nanoseconds())
	m.ScriptLatencyCount.Add(1)
	telemetry.BrowserScripts.WithLabelValues(outcome).Inc()
	telemetry.BrowserScriptLatency.Observe(latency.Seconds())

	if err == nil {
		m.publishEvent(telemetry.EventBrowserScript, sessionID, map[string]any{
			"latency_ms": latency.Milliseconds(),
		})
		return
	}
	m.ScriptErrors.Add(1)
	m.publishEvent(telemetry.EventBrowserScriptFailed, sessionID, map[string]any{
		"outcome":    outcome,
		"latency_ms": latency.Milliseconds(),
		"error":      err.Error(),
	})
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	avg := time.Duration(0)
	if count := m.ScriptLatencyCount.Load(); count > 0 {
		avg = time.Duration(m.ScriptLatencySum.Load() / count)
	}
	return MetricsSnapshot{
		SessionsCreated:      m.SessionsCreated.Load(),
		SessionsClosed:       m.SessionsClosed.Load(),
		ActiveSessions:       m.ActiveSessions.Load(),
		NavigateCount:        m.NavigateCount.Load(),
		ScriptCount:          m.ScriptCount.Load(),
		ScriptErrors:         m.ScriptErrors.Load(),
		AverageScriptLatency: avg,
	}
}

func (m *Metrics) publishEvent(eventType telemetry.EventType, sessionID string, data map[string]any) {
	m.mu.RLock()
	hub := m.hub
	runID := m.runID
	m.mu.RUnlock()
	if hub == nil {
		return
	}
	hub.Publish(telemetry.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		SessionID: sessionID,
		Data:      data,
	})
}

// MetricsSnapshot is a point-in-time copy of browser metrics.
type MetricsSnapshot struct {
	SessionsCreated      int64
	SessionsClosed       int64
	ActiveSessions       int64
	NavigateCount        int64
	ScriptCount          int64
	ScriptErrors         int64
	AverageScriptLatency time.Duration
}

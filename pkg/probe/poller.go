package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/odvcencio/meetprobe/pkg/clock"
	apperrors "github.com/odvcencio/meetprobe/pkg/errors"
	"github.com/odvcencio/meetprobe/pkg/logging"
	"github.com/odvcencio/meetprobe/pkg/telemetry"
)

// Probe is a single-shot readiness check.
type Probe interface {
	Name() string
	Check(ctx context.Context) (Result, error)
}

// Status is the terminal state of a poll.
type Status int

const (
	Succeeded Status = iota + 1
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome describes a finished poll.
type Outcome struct {
	Status   Status
	Elapsed  time.Duration
	Attempts int
	Last     Result
}

// Poller repeats a probe until it succeeds or a deadline passes.
type Poller struct {
	clock  clock.Clock
	logger *logging.Logger
	hub    *telemetry.Hub
	runID  string
}

// NewPoller creates a Poller. A nil clock uses the wall clock.
func NewPoller(clk clock.Clock, logger *logging.Logger) *Poller {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Poller{clock: clk, logger: logger}
}

// WithEvents publishes probe and poll events to hub.
func (p *Poller) WithEvents(hub *telemetry.Hub, runID string) *Poller {
	p.hub = hub
	p.runID = runID
	return p
}

// WaitUntil checks probe immediately, then after every full interval, until
// a check succeeds or timeout has elapsed since the call began. Success on
// the Nth check reports an elapsed time of (N-1)*interval plus probe latency;
// a timed-out wait reports at least timeout. A non-nil error is returned only when the probe
// reports one or ctx ends; the Outcome then holds the progress so far.
func (p *Poller) WaitUntil(ctx context.Context, probe Probe, timeout, interval time.Duration) (Outcome, error) {
	if interval <= 0 {
		return Outcome{}, apperrors.Newf(apperrors.ErrCodeInvalidInput, "poll interval must be positive, got %s", interval)
	}
	if timeout < 0 {
		timeout = 0
	}

	start := p.clock.Now()
	var out Outcome
	for {
		result, err := probe.Check(ctx)
		out.Attempts++
		out.Elapsed = p.clock.Now().Sub(start)
		out.Last = result
		if err != nil {
			p.finish(ctx, probe.Name(), "error", out)
			return out, err
		}
		p.evaluated(probe.Name(), out)

		if result.OK() {
			out.Status = Succeeded
			p.finish(ctx, probe.Name(), out.Status.String(), out)
			return out, nil
		}
		if out.Elapsed >= timeout {
			out.Status = TimedOut
			p.finish(ctx, probe.Name(), out.Status.String(), out)
			return out, nil
		}

		if err := clock.Sleep(ctx, p.clock, interval); err != nil {
			out.Elapsed = p.clock.Now().Sub(start)
			p.finish(ctx, probe.Name(), "cancelled", out)
			return out, err
		}
	}
}

func (p *Poller) evaluated(name string, out Outcome) {
	telemetry.ProbeChecks.WithLabelValues(name, out.Last.Label()).Inc()
	p.logger.ProbeEvaluated(name, out.Attempts, out.Last.String(), out.Elapsed)
	p.hub.Publish(telemetry.Event{
		Type:  telemetry.EventProbeEvaluated,
		RunID: p.runID,
		Data: map[string]any{
			"probe":   name,
			"attempt": out.Attempts,
			"result":  out.Last.String(),
			"ok":      out.Last.OK(),
		},
	})
}

func (p *Poller) finish(ctx context.Context, name, status string, out Outcome) {
	telemetry.PollDuration.WithLabelValues(name, status).Observe(out.Elapsed.Seconds())
	telemetry.AddEvent(ctx, "poll.completed",
		telemetry.AttrProbe.String(name),
		telemetry.AttrPollStatus.String(status),
		telemetry.AttrAttempts.Int(out.Attempts),
	)
	p.logger.PollCompleted(name, status, out.Attempts, out.Elapsed)
	p.hub.Publish(telemetry.Event{
		Type:  telemetry.EventPollCompleted,
		RunID: p.runID,
		Data: map[string]any{
			"probe":      name,
			"status":     status,
			"attempts":   out.Attempts,
			"elapsed_ms": out.Elapsed.Milliseconds(),
			"last":       fmt.Sprint(out.Last),
		},
	})
}

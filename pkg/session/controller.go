package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/meetprobe/pkg/browser"
	"github.com/odvcencio/meetprobe/pkg/clock"
	apperrors "github.com/odvcencio/meetprobe/pkg/errors"
	"github.com/odvcencio/meetprobe/pkg/logging"
	"github.com/odvcencio/meetprobe/pkg/probe"
	"github.com/odvcencio/meetprobe/pkg/telemetry"
)

// Deps are the collaborators of a Controller. Runtime is required.
type Deps struct {
	Runtime browser.Runtime
	Clock   clock.Clock
	Logger  *logging.Logger
	Hub     *telemetry.Hub
	Metrics *browser.Metrics
	// RunID overrides the generated run id.
	RunID string
}

// Report summarizes a finished run.
type Report struct {
	RunID       string
	SessionID   string
	MeetingURL  string
	Disposition Disposition
	Connect     probe.Outcome
	Throughput  probe.Outcome
	// Samples are the bitrates observed during the observation window.
	Samples    []float64
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Controller drives one browser session through launch, connectivity and
// throughput checks, the observation window and teardown.
type Controller struct {
	opts    Options
	runID   string
	clock   clock.Clock
	logger  *logging.Logger
	hub     *telemetry.Hub
	metrics *browser.Metrics

	manager      *browser.Manager
	exec         *probe.Executor
	poller       *probe.Poller
	connectivity *probe.Connectivity
	throughput   *probe.Throughput

	state       atomic.Int32
	disposition atomic.Value
	started     atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	span     trace.Span
	tornDown bool

	teardownOnce sync.Once
}

// NewController validates opts and wires the probes.
func NewController(opts Options, deps Deps) (*Controller, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if deps.Runtime == nil {
		return nil, apperrors.Wrap(browser.ErrUnavailable, apperrors.ErrCodeInvalidInput, "controller requires a browser runtime")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.RunID == "" {
		deps.RunID = NewRunID()
	}
	opts.Scripts = opts.Scripts.WithDefaults()

	logger := deps.Logger.WithRun(deps.RunID, opts.MeetingURL)
	deps.Metrics.EnableTelemetry(deps.Hub, deps.RunID)

	c := &Controller{
		opts:    opts,
		runID:   deps.RunID,
		clock:   deps.Clock,
		logger:  logger,
		hub:     deps.Hub,
		metrics: deps.Metrics,
	}
	c.disposition.Store(DispositionPending)
	c.manager = browser.NewManager(deps.Runtime, deps.Metrics)
	c.exec = probe.NewExecutor(c.manager, logger.WithComponent("executor"), deps.Metrics)
	c.poller = probe.NewPoller(deps.Clock, logger.WithComponent("poller")).WithEvents(deps.Hub, deps.RunID)
	c.connectivity = probe.NewConnectivity(c.exec, opts.Scripts.Connected, logger.WithComponent("connectivity"))
	c.throughput = probe.NewThroughput(c.exec, opts.Scripts.Stats, logger.WithComponent("throughput"))
	return c, nil
}

// RunID returns the run identifier.
func (c *Controller) RunID() string { return c.runID }

// State returns the current phase.
func (c *Controller) State() State { return State(c.state.Load()) }

// Disposition returns the final disposition, or DispositionPending while
// the run is in progress.
func (c *Controller) Disposition() Disposition {
	d, _ := c.disposition.Load().(Disposition)
	return d
}

// Run executes the session once. Teardown always runs before Run returns.
//
// Cancelling ctx, or calling Teardown, ends the run with
// DispositionTerminated and a nil error. Launch, navigation and
// unrecognized command failures end it with DispositionErrored and the
// error. Timeouts are dispositions, not errors.
func (c *Controller) Run(ctx context.Context) (report *Report, err error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.ErrCodeInternal, "controller has already run")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx, span := telemetry.StartSpan(runCtx, "meetprobe.run", trace.WithAttributes(
		telemetry.AttrRunID.String(c.runID),
		telemetry.AttrMeetingURL.String(c.opts.MeetingURL),
	))
	defer span.End()

	report = &Report{
		RunID:      c.runID,
		MeetingURL: c.opts.MeetingURL,
		StartedAt:  c.clock.Now(),
	}

	c.mu.Lock()
	c.cancel = cancel
	c.span = span
	tornDown := c.tornDown
	c.mu.Unlock()
	if tornDown {
		report.Disposition = DispositionTerminated
		report.FinishedAt = report.StartedAt
		c.finish(runCtx, report)
		return report, nil
	}
	c.publish(telemetry.EventRunStarted, "", map[string]any{"meeting_url": c.opts.MeetingURL})

	defer func() {
		interrupted := runCtx.Err() != nil
		c.Teardown()
		// A launch that completed after Teardown had already run.
		if late, ok := c.manager.Detach(); ok {
			_ = c.manager.CloseSession(late)
		}

		switch {
		case err != nil && interrupted:
			report.Disposition = DispositionTerminated
			err = nil
		case err != nil:
			report.Disposition = DispositionErrored
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.logger.Error("run failed",
				slog.String("code", string(apperrors.GetCode(err))),
				slog.Bool("connection_lost", browser.IsConnectionError(err)),
				slog.String("error", err.Error()),
			)
		case report.Disposition == DispositionPending:
			report.Disposition = DispositionTerminated
		}
		report.FinishedAt = c.clock.Now()
		c.finish(runCtx, report)
	}()

	sess, err := c.launch(runCtx)
	if err != nil {
		return report, err
	}
	report.SessionID = sess.ID()

	c.transition(runCtx, StateAwaitingConnectivity)
	report.Connect, err = c.poller.WaitUntil(runCtx, c.connectivity, c.opts.ConnectTimeout, c.opts.PollInterval)
	if err != nil {
		return report, err
	}
	if report.Connect.Status != probe.Succeeded {
		c.logger.Warn("Failed to connect to meet")
		report.Disposition = DispositionFailedToConnect
		return report, nil
	}
	c.logger.Info("Successful connection to meet")

	c.transition(runCtx, StateAwaitingThroughput)
	report.Throughput, err = c.poller.WaitUntil(runCtx, c.throughput, c.opts.ConnectTimeout, c.opts.PollInterval)
	if err != nil {
		return report, err
	}
	if report.Throughput.Status != probe.Succeeded {
		c.logger.Warn("Failed to receive data in meet client")
		report.Disposition = DispositionFailedToReceiveData
		return report, nil
	}
	c.logger.Info(fmt.Sprintf("Successfully receiving data in meet, observing for %s", c.opts.ObservationWindow))

	c.transition(runCtx, StateSteadyState)
	if err := c.observe(runCtx, report); err != nil {
		return report, err
	}
	report.Disposition = DispositionConnected
	return report, nil
}

func (c *Controller) launch(ctx context.Context) (browser.RemoteSession, error) {
	cfg := c.opts.Browser
	cfg.Flags = append([]string(nil), c.opts.Browser.Flags...)
	cfg.SessionID = GenerateSessionID(c.opts.MeetingURL, c.runID)
	cfg.InitialURL = c.opts.MeetingURL
	cfg.AuthToken = c.opts.Token

	sess, err := c.manager.Launch(ctx, cfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeLaunchFailed, "launch browser session").
			WithContext("session_id", cfg.SessionID)
	}
	c.logger.Info("browser session launched", slog.String("session_id", sess.ID()))
	trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrSessionID.String(sess.ID()))

	started := time.Now()
	err = sess.Navigate(ctx, c.opts.MeetingURL)
	c.metrics.RecordNavigate(sess.ID(), c.opts.MeetingURL, time.Since(started), err)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeNavigateFailed, "open meeting").
			WithContext("session_id", sess.ID())
	}
	c.transition(ctx, StateLaunched)
	return sess, nil
}

// observe holds the session open for the observation window, optionally
// sampling the bitrate.
func (c *Controller) observe(ctx context.Context, report *Report) error {
	window := c.opts.ObservationWindow
	interval := c.opts.SteadySampleInterval
	if interval <= 0 {
		return clock.Sleep(ctx, c.clock, window)
	}

	deadline := c.clock.Now().Add(window)
	for {
		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			return nil
		}
		if err := clock.Sleep(ctx, c.clock, min(interval, remaining)); err != nil {
			return err
		}
		rate := c.throughput.Bitrate(ctx)
		report.Samples = append(report.Samples, rate)
		c.logger.Info("steady-state bitrate", slog.Float64("download", rate))
		c.publish(telemetry.EventBitrateSample, report.SessionID, map[string]any{"download": rate})
	}
}

// Teardown cancels the run and releases the browser session. Only the
// first call does anything; concurrent callers wait for it to finish.
func (c *Controller) Teardown() {
	c.teardownOnce.Do(c.teardown)
}

func (c *Controller) teardown() {
	c.mu.Lock()
	c.tornDown = true
	cancel, span := c.cancel, c.span
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), c.opts.TeardownTimeout)
	defer done()
	if span != nil {
		ctx = trace.ContextWithSpan(ctx, span)
	}
	ctx, tdSpan := telemetry.StartSpan(ctx, "meetprobe.teardown")
	defer tdSpan.End()

	c.transition(ctx, StateTearingDown)

	sess, ok := c.manager.Detach()
	if !ok {
		c.logger.Info("no browser session to release")
		return
	}

	if _, err := c.exec.RunOn(ctx, sess, c.opts.Scripts.Disconnect); err != nil {
		c.teardownFailed(ctx, sess.ID(), "disconnect", err)
	}
	// Give the client time to finish logging out.
	_ = clock.Sleep(ctx, c.clock, c.opts.TeardownGrace)

	if err := c.manager.CloseSession(sess); err != nil {
		c.teardownFailed(ctx, sess.ID(), "release", err)
		return
	}
	c.logger.Info("browser session released")
}

func (c *Controller) teardownFailed(ctx context.Context, sessionID, step string, err error) {
	err = apperrors.Wrap(err, apperrors.ErrCodeTeardownFailed, step).WithContext("session_id", sessionID)
	telemetry.TeardownFailures.WithLabelValues(step).Inc()
	telemetry.RecordError(ctx, err)
	c.logger.Warn("teardown step failed", slog.String("step", step), slog.String("error", err.Error()))
	c.publish(telemetry.EventTeardownFailed, sessionID, map[string]any{
		"step":  step,
		"error": err.Error(),
	})
}

// transition only moves forward; a late phase change after teardown has
// begun is ignored.
func (c *Controller) transition(ctx context.Context, to State) {
	var from State
	for {
		from = State(c.state.Load())
		if to <= from {
			return
		}
		if c.state.CompareAndSwap(int32(from), int32(to)) {
			break
		}
	}
	telemetry.PhaseTransitions.WithLabelValues(to.String()).Inc()
	telemetry.AddEvent(ctx, "phase."+to.String())
	c.logger.PhaseEntered(from.String(), to.String())
	c.publish(telemetry.EventPhaseEntered, "", map[string]any{
		"from":  from.String(),
		"state": to.String(),
	})
}

func (c *Controller) finish(ctx context.Context, report *Report) {
	c.disposition.Store(report.Disposition)
	c.transition(ctx, StateTerminated)

	telemetry.RunOutcomes.WithLabelValues(string(report.Disposition)).Inc()
	trace.SpanFromContext(ctx).SetAttributes(
		telemetry.AttrDisposition.String(string(report.Disposition)),
		attribute.Int("meetprobe.samples", len(report.Samples)),
	)
	c.logger.Disposition(string(report.Disposition), report.Duration())
	c.publish(telemetry.EventRunCompleted, report.SessionID, map[string]any{
		"disposition": string(report.Disposition),
		"duration_ms": report.Duration().Milliseconds(),
		"connect":     report.Connect.Status.String(),
		"throughput":  report.Throughput.Status.String(),
	})
}

func (c *Controller) publish(eventType telemetry.EventType, sessionID string, data map[string]any) {
	c.hub.Publish(telemetry.Event{
		Type:      eventType,
		RunID:     c.runID,
		SessionID: sessionID,
		Data:      data,
	})
}

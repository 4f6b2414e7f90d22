package probe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/odvcencio/meetprobe/pkg/browser"
	apperrors "github.com/odvcencio/meetprobe/pkg/errors"
	"github.com/odvcencio/meetprobe/pkg/logging"
)

// SessionSource yields the live session, if there is one. *browser.Manager
// implements it; once teardown detaches the session, probes stop running.
type SessionSource interface {
	Active() (browser.RemoteSession, bool)
}

// Executor runs page commands and classifies their failures.
type Executor struct {
	source  SessionSource
	logger  *logging.Logger
	metrics *browser.Metrics
}

// NewExecutor creates an Executor. logger and metrics may be nil.
func NewExecutor(source SessionSource, logger *logging.Logger, metrics *browser.Metrics) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{source: source, logger: logger, metrics: metrics}
}

// Run executes script on the live session.
//
// Recognized driver failures are returned as *Failure with Kind
// FailureDriver. Any other failure, including a missing session, is
// returned as a COMMAND_FAILED error and must be treated as fatal. A
// command cut short by cancellation is logged at info, not as a failure.
func (e *Executor) Run(ctx context.Context, script string) (json.RawMessage, error) {
	if e.source == nil {
		return nil, apperrors.Wrap(browser.ErrUnavailable, apperrors.ErrCodeCommandFailed, "run command")
	}
	sess, ok := e.source.Active()
	if !ok {
		return nil, apperrors.Wrap(browser.ErrSessionClosed, apperrors.ErrCodeCommandFailed, "run command")
	}
	return e.RunOn(ctx, sess, script)
}

// RunOn executes script on an explicit session. Teardown uses it after the
// session has been detached from the source.
func (e *Executor) RunOn(ctx context.Context, sess browser.RemoteSession, script string) (json.RawMessage, error) {
	started := time.Now()
	value, err := sess.RunScript(ctx, script)
	latency := time.Since(started)

	if err == nil {
		e.metrics.RecordScript(sess.ID(), "ok", latency, nil)
		return value, nil
	}

	if browser.IsDriverError(err) {
		e.logger.CommandFailed(script, true, err)
		e.metrics.RecordScript(sess.ID(), "driver_error", latency, err)
		return nil, &Failure{Kind: FailureDriver, Script: script, Err: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		e.logger.Info("command cancelled", slog.String("session_id", sess.ID()))
		e.metrics.RecordScript(sess.ID(), "cancelled", latency, err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCommandFailed, "run command").
			WithContext("session_id", sess.ID())
	}

	e.logger.CommandFailed(script, false, err)
	e.metrics.RecordScript(sess.ID(), "fatal", latency, err)
	return nil, apperrors.Wrap(err, apperrors.ErrCodeCommandFailed, "run command").
		WithContext("session_id", sess.ID())
}

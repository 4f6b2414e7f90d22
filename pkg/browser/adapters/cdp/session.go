package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/odvcencio/meetprobe/pkg/browser"
	"github.com/odvcencio/meetprobe/pkg/logging"
)

// Session is a Chrome page driven over the DevTools protocol.
type Session struct {
	id     string
	cfg    browser.SessionConfig
	client *client
	logger *logging.Logger

	cmd      *exec.Cmd
	waitDone chan struct{}

	profileDir       string
	keepProfile      bool
	operationTimeout time.Duration
	shutdownTimeout  time.Duration

	mu         sync.Mutex
	closed     bool
	targetGone string
}

// ID returns the session identifier.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Navigate loads rawURL in the page. The session's auth token, if any, is
// attached as the jwt query parameter.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	target, err := browser.WithAuthToken(rawURL, s.cfg.AuthToken)
	if err != nil {
		return browser.WrapDriverError(browser.CodeNavigation, "invalid url", err)
	}
	ctx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	raw, err := s.client.call(ctx, "Page.navigate", navigateParams{URL: target})
	if err != nil {
		return err
	}
	var res navigateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return browser.WrapDriverError(browser.CodeProtocol, "decode navigate result", err)
	}
	if res.ErrorText != "" {
		return browser.NewDriverError(browser.CodeNavigation, res.ErrorText)
	}
	return nil
}

// RunScript evaluates a function body in the page and returns its value
// as JSON. Promises are awaited.
func (s *Session) RunScript(ctx context.Context, script string) (json.RawMessage, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if reason := s.goneReason(); reason != "" {
		return nil, browser.NewDriverError(browser.CodeTargetClosed, reason)
	}
	ctx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	raw, err := s.client.call(ctx, "Runtime.evaluate", evaluateParams{
		Expression:    wrapScript(script),
		ReturnByValue: true,
		AwaitPromise:  true,
	})
	if err != nil {
		if reason := s.goneReason(); reason != "" {
			return nil, browser.WrapDriverError(browser.CodeTargetClosed, reason, err)
		}
		return nil, err
	}
	return decodeEvaluate(raw)
}

// Close stops the browser and removes its profile. Safe to call more than
// once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.client != nil {
		_ = s.client.close()
	}
	terminate(s.cmd, s.waitDone, s.shutdownTimeout)
	if s.profileDir != "" && !s.keepProfile {
		if err := os.RemoveAll(s.profileDir); err != nil {
			return fmt.Errorf("remove profile: %w", err)
		}
	}
	return nil
}

func (s *Session) handleEvent(method string, params json.RawMessage) {
	switch method {
	case "Inspector.detached":
		var ev struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(params, &ev)
		s.markGone("detached: " + ev.Reason)
	case "Inspector.targetCrashed":
		s.markGone("target crashed")
	case "Runtime.consoleAPICalled":
		if !s.cfg.ConsoleLogging {
			return
		}
		var ev consoleAPICalled
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		s.logger.Debug("browser console", slog.String("level", ev.Type), slog.String("text", consoleText(ev.Args)))
	case "Runtime.exceptionThrown":
		if !s.cfg.ConsoleLogging {
			return
		}
		var ev struct {
			ExceptionDetails exceptionDetails `json:"exceptionDetails"`
		}
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		s.logger.Debug("browser exception", slog.String("text", ev.ExceptionDetails.describe()))
	}
}

func (s *Session) markGone(reason string) {
	s.mu.Lock()
	if s.targetGone == "" {
		s.targetGone = reason
	}
	s.mu.Unlock()
	s.logger.Warn("page target gone", slog.String("reason", reason))
}

func (s *Session) goneReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetGone
}

func (s *Session) ensureOpen() error {
	if s == nil {
		return browser.ErrSessionClosed
	}
	if s.client == nil {
		return browser.ErrUnavailable
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return browser.ErrSessionClosed
	}
	return nil
}

// withOperationTimeout applies the session's operation timeout to a context if
// the context doesn't already have a deadline.
func (s *Session) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	timeout := s.operationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// terminate asks the browser to exit and kills it if it does not.
func terminate(cmd *exec.Cmd, waitDone <-chan struct{}, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	select {
	case <-waitDone:
		return
	default:
	}
	if grace <= 0 {
		grace = 3 * time.Second
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err == nil {
		select {
		case <-waitDone:
			return
		case <-time.After(grace):
		}
	}
	_ = cmd.Process.Kill()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
	}
}

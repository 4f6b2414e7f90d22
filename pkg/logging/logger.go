package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is the structured logger shared by meetprobe components.
type Logger struct {
	*slog.Logger
}

// Options selects the handler for NewLogger.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is "json" or "text".
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// NewLogger creates a logger tagged with component.
func NewLogger(component string, opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: json, text)", opts.Format)
	}

	logger := slog.New(handler).With(
		slog.String("component", component),
	)
	return &Logger{Logger: logger}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", level)
	}
}

// WithRun returns a logger with run-specific fields
func (l *Logger) WithRun(runID, meetingURL string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("run_id", runID),
			slog.String("meeting_url", meetingURL),
		),
	}
}

// WithSession returns a logger with the browser session id
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("session_id", sessionID),
		),
	}
}

// WithComponent returns a logger for a sub-component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("subcomponent", component),
		),
	}
}

// PhaseEntered logs a controller state transition
func (l *Logger) PhaseEntered(from, to string) {
	l.Info("phase entered",
		slog.String("from", from),
		slog.String("state", to),
	)
}

// ProbeEvaluated logs one probe evaluation with its literal result
func (l *Logger) ProbeEvaluated(probe string, attempt int, result string, elapsed time.Duration) {
	l.Info("probe evaluated",
		slog.String("probe", probe),
		slog.Int("attempt", attempt),
		slog.String("result", result),
		slog.Duration("elapsed", elapsed),
	)
}

// PollCompleted logs the terminal outcome of a bounded wait
func (l *Logger) PollCompleted(probe, status string, attempts int, elapsed time.Duration) {
	l.Info("poll completed",
		slog.String("probe", probe),
		slog.String("status", status),
		slog.Int("attempts", attempts),
		slog.Duration("elapsed", elapsed),
	)
}

// CommandFailed logs a failed remote command
func (l *Logger) CommandFailed(script string, recoverable bool, err error) {
	level := slog.LevelError
	if recoverable {
		level = slog.LevelWarn
	}
	l.Log(context.Background(), level, "command failed",
		slog.String("script", script),
		slog.Bool("recoverable", recoverable),
		slog.String("error", err.Error()),
	)
}

// Disposition logs the final outcome of a run
func (l *Logger) Disposition(disposition string, elapsed time.Duration) {
	l.Info("run finished",
		slog.String("disposition", disposition),
		slog.Duration("elapsed", elapsed),
	)
}

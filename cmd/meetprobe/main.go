package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/meetprobe/pkg/browser"
	"github.com/odvcencio/meetprobe/pkg/browser/adapters/cdp"
	"github.com/odvcencio/meetprobe/pkg/config"
	"github.com/odvcencio/meetprobe/pkg/logging"
	"github.com/odvcencio/meetprobe/pkg/notify"
	"github.com/odvcencio/meetprobe/pkg/session"
	"github.com/odvcencio/meetprobe/pkg/telemetry"
)

// Version information - set via ldflags during build
var (
	version = "0.1.0-dev"
)

// newRuntimeFn allows tests to replace the Chrome runtime.
var newRuntimeFn = func(cfg *config.Config, logger *logging.Logger) (browser.Runtime, error) {
	return cdp.NewRuntime(cfg.CDPConfig(), logger.WithComponent("cdp"))
}

func main() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	err := run(os.Args[1:], os.Stdout, os.Stderr, signals)
	signal.Stop(signals)
	if err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
	}
	os.Exit(exitCodeForError(err))
}

// run is the whole command. The returned error carries the exit code.
func run(args []string, stdout, stderr io.Writer, signals <-chan os.Signal) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		opts.printUsage(stderr)
		return silentExit(exitUsage)
	}
	if opts.help {
		opts.printUsage(stdout)
		return nil
	}

	var cfg *config.Config
	if opts.configPath != "" {
		cfg, err = config.LoadFromPath(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return withExitCode(fmt.Errorf("Error loading config: %w", err), exitFailure)
	}
	opts.apply(cfg)

	if strings.TrimSpace(cfg.Meeting.URL) == "" {
		return withExitCode(errors.New("No meeting URL provided."), exitFailure)
	}
	if err := cfg.Validate(); err != nil {
		return withExitCode(fmt.Errorf("Error: %w", err), exitFailure)
	}
	return execute(cfg, stdout, stderr, signals)
}

// execute wires the run and its background sinks, waits for the run to
// finish and maps the outcome to an exit status.
func execute(cfg *config.Config, stdout, stderr io.Writer, signals <-chan os.Signal) error {
	logOpts := cfg.LoggerOptions()
	logOpts.Output = stderr
	logger, err := logging.NewLogger("meetprobe", logOpts)
	if err != nil {
		return withExitCode(fmt.Errorf("Error: %w", err), exitFailure)
	}

	runID := session.NewRunID()
	hub := telemetry.NewHub()
	defer hub.Close()

	if cfg.Tracing.Enabled {
		out, closeOut, err := openTraceOutput(cfg.Tracing.Output, stderr)
		if err != nil {
			return withExitCode(fmt.Errorf("Error opening trace output: %w", err), exitFailure)
		}
		defer closeOut()
		tp, err := telemetry.NewTracerProvider("meetprobe", version, out)
		if err != nil {
			return withExitCode(fmt.Errorf("Error: %w", err), exitFailure)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("trace shutdown failed", "error", err.Error())
			}
		}()
	}

	runtime, err := newRuntimeFn(cfg, logger)
	if err != nil {
		return withExitCode(fmt.Errorf("Error starting browser runtime: %w", err), exitFailure)
	}
	defer runtime.Close()

	ctrl, err := session.NewController(cfg.SessionOptions(), session.Deps{
		Runtime: runtime,
		Logger:  logger,
		Hub:     hub,
		Metrics: browser.NewMetrics(),
		RunID:   runID,
	})
	if err != nil {
		return withExitCode(fmt.Errorf("Error: %w", err), exitFailure)
	}

	var listener net.Listener
	if addr := strings.TrimSpace(cfg.Metrics.Addr); addr != "" {
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return withExitCode(fmt.Errorf("Error: metrics listener: %w", err), exitFailure)
		}
	}

	var publisher *notify.NATSPublisher
	if cfg.NATS.URL != "" {
		publisher, err = notify.NewNATSPublisher(notify.NATSConfig{
			URL:            cfg.NATS.URL,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			Username:       cfg.NATS.Username,
			Password:       cfg.NATS.Password,
			Token:          cfg.NATS.Token,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
		}, logger.WithComponent("notify"))
		if err != nil {
			closeListener(listener)
			return withExitCode(fmt.Errorf("Error: %w", err), exitFailure)
		}
		defer publisher.Close()
	}

	var journal *logging.Journal
	if cfg.Logging.JournalDir != "" {
		journal, err = logging.NewJournal(cfg.Logging.JournalDir, runID)
		if err != nil {
			closeListener(listener)
			return withExitCode(fmt.Errorf("Error: %w", err), exitFailure)
		}
		defer journal.Close()
		logger.Info("journaling run events", "path", journal.Path())
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	caught := make(chan os.Signal, 1)
	go func() {
		select {
		case sig := <-signals:
			logger.Warn("signal received, tearing down", "signal", signalName(sig))
			caught <- sig
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	background, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	g, gctx := errgroup.WithContext(background)

	// Sinks drain until the hub closes so the final events are delivered.
	if journal != nil {
		events, unsubscribe := hub.Subscribe()
		g.Go(func() error {
			defer unsubscribe()
			journal.Follow(events, func(err error) {
				logger.Warn("journal write failed", "error", err.Error())
			})
			return nil
		})
	}
	if publisher != nil {
		events, unsubscribe := hub.Subscribe()
		g.Go(func() error {
			defer unsubscribe()
			return publisher.Forward(context.Background(), events)
		})
	}
	if listener != nil {
		g.Go(func() error {
			return serveHTTP(gctx, listener, newRouter(ctrl), logger)
		})
	}

	var (
		report *session.Report
		runErr error
	)
	g.Go(func() error {
		defer stopBackground()
		defer hub.Close()
		report, runErr = ctrl.Run(runCtx)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("background task failed", "error", err.Error())
	}
	cancelRun()

	if report != nil {
		printReport(stdout, report)
	}
	if runErr != nil {
		return withExitCode(fmt.Errorf("Error: %w", runErr), exitFailure)
	}
	if report.Disposition == session.DispositionTerminated {
		select {
		case sig := <-caught:
			return withExitCode(
				fmt.Errorf("meetprobe: terminated by %s, session released", signalName(sig)),
				signalExitCode(sig),
			)
		default:
		}
	}
	return silentExit(dispositionExitCode(report.Disposition, cfg.StrictExit))
}

func printReport(w io.Writer, report *session.Report) {
	fmt.Fprintf(w, "%s (disposition=%s run=%s duration=%s)\n",
		dispositionMessage(report.Disposition),
		report.Disposition,
		report.RunID,
		report.Duration().Round(time.Millisecond),
	)
}

func dispositionMessage(d session.Disposition) string {
	switch d {
	case session.DispositionConnected:
		return "Successful connection"
	case session.DispositionFailedToConnect:
		return "Failed to connect"
	case session.DispositionFailedToReceiveData:
		return "Failed to receive data"
	case session.DispositionTerminated:
		return "Terminated"
	default:
		return "Errored"
	}
}

func openTraceOutput(output string, stderr io.Writer) (io.Writer, func(), error) {
	switch strings.TrimSpace(output) {
	case "", "stderr":
		return stderr, func() {}, nil
	case "stdout":
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func closeListener(ln net.Listener) {
	if ln != nil {
		_ = ln.Close()
	}
}

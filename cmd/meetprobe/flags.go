package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/odvcencio/meetprobe/pkg/config"
)

// cliOptions holds the parsed command line. Values are only applied to the
// loaded configuration when the flag was set explicitly.
type cliOptions struct {
	fs       *pflag.FlagSet
	usageOut io.Writer

	help       bool
	configPath string

	meetingURL        string
	token             string
	chromePath        string
	connectTimeout    time.Duration
	pollInterval      time.Duration
	observationWindow time.Duration
	logLevel          string
	logFormat         string
	journalDir        string
	metricsAddr       string
	trace             bool
	natsURL           string
	strictExit        bool
}

func newFlagSet(opts *cliOptions, output io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("meetprobe", pflag.ContinueOnError)
	fs.SetOutput(output)
	opts.usageOut = output
	fs.SortFlags = false

	fs.StringVarP(&opts.meetingURL, "meeting_url", "u", "", "meeting URL to join (required)")
	fs.StringVarP(&opts.token, "token", "t", "", "auth token appended to the meeting URL as jwt")
	fs.BoolVarP(&opts.help, "help", "h", false, "show this help and exit")
	fs.StringVarP(&opts.configPath, "config", "c", "", "config file (default: ~/.meetprobe/config.yaml then ./.meetprobe/config.yaml)")
	fs.StringVar(&opts.chromePath, "chrome", "", "Chrome or Chromium binary")
	fs.DurationVar(&opts.connectTimeout, "connect-timeout", config.DefaultConnectTimeout, "how long to wait for connectivity and for inbound media")
	fs.DurationVar(&opts.pollInterval, "poll-interval", config.DefaultPollInterval, "delay between probe checks")
	fs.DurationVar(&opts.observationWindow, "observation-window", config.DefaultObservationWindow, "how long to stay in the meeting once media flows")
	fs.StringVar(&opts.logLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", config.DefaultLogFormat, "log format: json or text")
	fs.StringVar(&opts.journalDir, "journal-dir", "", "write a JSONL event journal under this directory")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	fs.BoolVar(&opts.trace, "trace", false, "export spans to stderr")
	fs.StringVar(&opts.natsURL, "nats-url", "", "forward run events to this NATS server")
	fs.BoolVar(&opts.strictExit, "strict-exit", false, "exit 3 when connecting fails and 4 when no media arrives")

	fs.Usage = func() {
		fmt.Fprintf(opts.usageOut, "Usage: meetprobe -u <meeting url> [flags]\n\n")
		fmt.Fprintf(opts.usageOut, "Joins a meeting in a browser, checks that it connects and receives media,\nstays for the observation window and leaves.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	return fs
}

// parseFlags parses args. The caller reports errors and prints usage.
func parseFlags(args []string, output io.Writer) (*cliOptions, error) {
	opts := &cliOptions{}
	opts.fs = newFlagSet(opts, output)
	if err := opts.fs.Parse(args); err != nil {
		return opts, err
	}
	if rest := opts.fs.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", rest)
	}
	return opts, nil
}

// printUsage writes usage to w.
func (o *cliOptions) printUsage(w io.Writer) {
	o.usageOut = w
	o.fs.SetOutput(w)
	o.fs.Usage()
}

// apply overrides cfg with every flag set on the command line.
func (o *cliOptions) apply(cfg *config.Config) {
	changed := o.fs.Changed
	if changed("meeting_url") {
		cfg.Meeting.URL = o.meetingURL
	}
	if changed("token") {
		cfg.Meeting.Token = o.token
	}
	if changed("chrome") {
		cfg.Browser.ChromePath = o.chromePath
	}
	if changed("connect-timeout") {
		cfg.Probe.ConnectTimeout = o.connectTimeout
	}
	if changed("poll-interval") {
		cfg.Probe.PollInterval = o.pollInterval
	}
	if changed("observation-window") {
		cfg.Probe.ObservationWindow = o.observationWindow
	}
	if changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = o.logFormat
	}
	if changed("journal-dir") {
		cfg.Logging.JournalDir = o.journalDir
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if changed("trace") {
		cfg.Tracing.Enabled = o.trace
	}
	if changed("nats-url") {
		cfg.NATS.URL = o.natsURL
	}
	if changed("strict-exit") {
		cfg.StrictExit = o.strictExit
	}
}

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/meetprobe/pkg/browser"
	"github.com/odvcencio/meetprobe/pkg/browser/adapters/cdp"
	apperrors "github.com/odvcencio/meetprobe/pkg/errors"
	"github.com/odvcencio/meetprobe/pkg/logging"
	"github.com/odvcencio/meetprobe/pkg/probe"
	"github.com/odvcencio/meetprobe/pkg/session"
)

// Default configuration values exported for documentation and validation
const (
	DefaultConnectTimeout    = 60 * time.Second
	DefaultPollInterval      = 5 * time.Second
	DefaultObservationWindow = 60 * time.Second
	DefaultTeardownGrace     = 2 * time.Second
	DefaultTeardownTimeout   = 15 * time.Second
	DefaultDisplay           = ":0"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultSubjectPrefix     = "meetprobe.events"
)

// Config is the complete meetprobe configuration.
type Config struct {
	Meeting    MeetingConfig `yaml:"meeting"`
	Probe      ProbeConfig   `yaml:"probe"`
	Browser    BrowserConfig `yaml:"browser"`
	Logging    LoggingConfig `yaml:"logging"`
	Metrics    MetricsConfig `yaml:"metrics"`
	Tracing    TracingConfig `yaml:"tracing"`
	NATS       NATSConfig    `yaml:"nats"`
	StrictExit bool          `yaml:"strict_exit"`
}

// MeetingConfig names the conference to join.
type MeetingConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// ProbeConfig holds the run timings and page commands.
type ProbeConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	ObservationWindow    time.Duration `yaml:"observation_window"`
	SteadySampleInterval time.Duration `yaml:"steady_sample_interval"`
	TeardownGrace        time.Duration `yaml:"teardown_grace"`
	TeardownTimeout      time.Duration `yaml:"teardown_timeout"`
	Scripts              probe.Scripts `yaml:"scripts"`
}

// BrowserConfig controls the Chrome process.
type BrowserConfig struct {
	ChromePath       string           `yaml:"chrome_path"`
	ProfileDir       string           `yaml:"profile_dir"`
	KeepProfile      bool             `yaml:"keep_profile"`
	Headless         bool             `yaml:"headless"`
	Display          string           `yaml:"display"`
	Viewport         browser.Viewport `yaml:"viewport"`
	Flags            []string         `yaml:"flags"`
	ExtraFlags       []string         `yaml:"extra_flags"`
	ConsoleLogging   bool             `yaml:"console_logging"`
	StartupTimeout   time.Duration    `yaml:"startup_timeout"`
	OperationTimeout time.Duration    `yaml:"operation_timeout"`
}

// LoggingConfig selects the log handler and the optional run journal.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// JournalDir enables the JSONL run journal when set.
	JournalDir string `yaml:"journal_dir"`
}

// MetricsConfig enables the /metrics and /healthz listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TracingConfig enables span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Output is a file path, or "stderr"/"stdout".
	Output string `yaml:"output"`
}

// NATSConfig contains the event forwarding connection settings.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	sessionDefaults := browser.DefaultSessionConfig()
	cdpDefaults := cdp.DefaultConfig()
	return &Config{
		Probe: ProbeConfig{
			ConnectTimeout:    DefaultConnectTimeout,
			PollInterval:      DefaultPollInterval,
			ObservationWindow: DefaultObservationWindow,
			TeardownGrace:     DefaultTeardownGrace,
			TeardownTimeout:   DefaultTeardownTimeout,
			Scripts:           probe.DefaultScripts(),
		},
		Browser: BrowserConfig{
			Display:          DefaultDisplay,
			Viewport:         sessionDefaults.Viewport,
			Flags:            sessionDefaults.Flags,
			ConsoleLogging:   sessionDefaults.ConsoleLogging,
			StartupTimeout:   cdpDefaults.StartupTimeout,
			OperationTimeout: cdpDefaults.OperationTimeout,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Tracing: TracingConfig{
			Output: "stderr",
		},
		NATS: NATSConfig{
			SubjectPrefix:  DefaultSubjectPrefix,
			ConnectTimeout: 5 * time.Second,
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.meetprobe/config.yaml, ./.meetprobe/config.yaml, then
// MEETPROBE_* environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".meetprobe", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, wrapLoadError(err, userConfigPath)
		}
	}

	projectConfigPath := filepath.Join(".", ".meetprobe", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, wrapLoadError(err, projectConfigPath)
	}

	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadAndMerge(cfg, path); err != nil {
		return nil, wrapLoadError(err, path)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("MEETPROBE_MEETING_URL"); v != "" {
		cfg.Meeting.URL = v
	}
	if v := os.Getenv("MEETPROBE_TOKEN"); v != "" {
		cfg.Meeting.Token = v
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"MEETPROBE_CONNECT_TIMEOUT", &cfg.Probe.ConnectTimeout},
		{"MEETPROBE_POLL_INTERVAL", &cfg.Probe.PollInterval},
		{"MEETPROBE_OBSERVATION_WINDOW", &cfg.Probe.ObservationWindow},
		{"MEETPROBE_STEADY_SAMPLE_INTERVAL", &cfg.Probe.SteadySampleInterval},
		{"MEETPROBE_TEARDOWN_GRACE", &cfg.Probe.TeardownGrace},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "invalid duration").
				WithContext("variable", d.key)
		}
		*d.target = parsed
	}

	if v := os.Getenv("MEETPROBE_CHROME_PATH"); v != "" {
		cfg.Browser.ChromePath = v
	}
	if v, ok := envBool("MEETPROBE_HEADLESS"); ok {
		cfg.Browser.Headless = v
	}
	if v := os.Getenv("MEETPROBE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MEETPROBE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MEETPROBE_JOURNAL_DIR"); v != "" {
		cfg.Logging.JournalDir = v
	}
	if v := os.Getenv("MEETPROBE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v, ok := envBool("MEETPROBE_TRACE"); ok {
		cfg.Tracing.Enabled = v
	}
	if v := os.Getenv("MEETPROBE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("MEETPROBE_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
	if v, ok := envBool("MEETPROBE_STRICT_EXIT"); ok {
		cfg.StrictExit = v
	}
	return nil
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// Validate checks the configuration. The meeting URL is not required here;
// the command line may still supply it.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid, format, args...)
	}

	p := c.Probe
	if p.PollInterval <= 0 {
		return invalid("probe.poll_interval must be positive, got %s", p.PollInterval)
	}
	if p.ConnectTimeout < 0 || p.ObservationWindow < 0 || p.SteadySampleInterval < 0 || p.TeardownGrace < 0 {
		return invalid("probe durations must not be negative")
	}
	if p.TeardownTimeout <= p.TeardownGrace {
		return invalid("probe.teardown_timeout (%s) must exceed probe.teardown_grace (%s)", p.TeardownTimeout, p.TeardownGrace)
	}

	if c.Browser.Viewport.Width < 0 || c.Browser.Viewport.Height < 0 {
		return invalid("browser.viewport must not be negative")
	}
	if err := c.CDPConfig().Validate(); err != nil {
		return invalid("browser: %v", err)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level: %v", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "json", "text":
	default:
		return invalid("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if addr := strings.TrimSpace(c.Metrics.Addr); addr != "" {
		if _, port, err := net.SplitHostPort(addr); err != nil {
			return invalid("metrics.addr %q: %v", addr, err)
		} else if _, err := strconv.Atoi(port); err != nil {
			return invalid("metrics.addr %q: invalid port", addr)
		}
	}

	if c.NATS.URL != "" {
		prefix := strings.TrimSpace(c.NATS.SubjectPrefix)
		if prefix == "" || strings.ContainsAny(prefix, " *>") {
			return invalid("nats.subject_prefix %q is not a valid subject", c.NATS.SubjectPrefix)
		}
	}
	return nil
}

// SessionOptions converts the configuration to controller options.
func (c *Config) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.MeetingURL = strings.TrimSpace(c.Meeting.URL)
	opts.Token = c.Meeting.Token
	opts.ConnectTimeout = c.Probe.ConnectTimeout
	opts.PollInterval = c.Probe.PollInterval
	opts.ObservationWindow = c.Probe.ObservationWindow
	opts.SteadySampleInterval = c.Probe.SteadySampleInterval
	opts.TeardownGrace = c.Probe.TeardownGrace
	opts.TeardownTimeout = c.Probe.TeardownTimeout
	opts.Scripts = c.Probe.Scripts.WithDefaults()

	opts.Browser.Viewport = c.Browser.Viewport
	if c.Browser.Flags != nil {
		opts.Browser.Flags = append([]string(nil), c.Browser.Flags...)
	}
	if c.Browser.Display != "" {
		opts.Browser.Display = c.Browser.Display
	}
	opts.Browser.ConsoleLogging = c.Browser.ConsoleLogging
	return opts
}

// CDPConfig converts the browser section to adapter configuration.
func (c *Config) CDPConfig() cdp.Config {
	return cdp.Config{
		ChromePath:       c.Browser.ChromePath,
		ProfileDir:       c.Browser.ProfileDir,
		KeepProfile:      c.Browser.KeepProfile,
		Headless:         c.Browser.Headless,
		ExtraFlags:       append([]string(nil), c.Browser.ExtraFlags...),
		StartupTimeout:   c.Browser.StartupTimeout,
		OperationTimeout: c.Browser.OperationTimeout,
	}
}

// LoggerOptions converts the logging section to logger options.
func (c *Config) LoggerOptions() logging.Options {
	return logging.Options{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
	}
}

func (c *Config) expandPaths() {
	c.Logging.JournalDir = expandHomeDir(c.Logging.JournalDir)
	c.Browser.ProfileDir = expandHomeDir(c.Browser.ProfileDir)
	if !isStdStream(c.Tracing.Output) {
		c.Tracing.Output = expandHomeDir(c.Tracing.Output)
	}
}

func isStdStream(output string) bool {
	switch strings.TrimSpace(output) {
	case "", "stderr", "stdout":
		return true
	default:
		return false
	}
}

func wrapLoadError(err error, path string) error {
	code := apperrors.ErrCodeConfigLoad
	if _, ok := err.(*parseError); ok {
		code = apperrors.ErrCodeConfigParse
	}
	return apperrors.Wrap(err, code, fmt.Sprintf("loading config from %s", path)).
		WithContext("path", path)
}

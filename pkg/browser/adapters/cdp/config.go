package cdp

import (
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Config controls how the DevTools adapter launches the browser.
type Config struct {
	// ChromePath is the browser binary. Empty searches PATH for common
	// Chrome and Chromium names.
	ChromePath string
	// ProfileDir is the parent of per-session user data directories.
	// Empty uses the system temp dir.
	ProfileDir string
	// KeepProfile leaves the user data directory behind on Close.
	KeepProfile bool
	Headless    bool
	// ExtraFlags are appended after the session flags.
	ExtraFlags []string

	StartupTimeout   time.Duration
	OperationTimeout time.Duration
	// ShutdownTimeout is how long Close waits for the process after
	// SIGTERM before killing it.
	ShutdownTimeout time.Duration
}

var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		StartupTimeout:   20 * time.Second,
		OperationTimeout: 30 * time.Second,
		ShutdownTimeout:  3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	defaults.ChromePath = strings.TrimSpace(c.ChromePath)
	defaults.ProfileDir = strings.TrimSpace(c.ProfileDir)
	defaults.KeepProfile = c.KeepProfile
	defaults.Headless = c.Headless
	defaults.ExtraFlags = append([]string(nil), c.ExtraFlags...)
	if c.StartupTimeout != 0 {
		defaults.StartupTimeout = c.StartupTimeout
	}
	if c.OperationTimeout != 0 {
		defaults.OperationTimeout = c.OperationTimeout
	}
	if c.ShutdownTimeout != 0 {
		defaults.ShutdownTimeout = c.ShutdownTimeout
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if c.StartupTimeout < 0 {
		return errors.New("startup_timeout must be zero or positive")
	}
	if c.OperationTimeout < 0 {
		return errors.New("operation_timeout must be zero or positive")
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown_timeout must be zero or positive")
	}
	return nil
}

// resolveChrome returns the browser binary to launch.
func (c Config) resolveChrome() (string, error) {
	if c.ChromePath != "" {
		return exec.LookPath(c.ChromePath)
	}
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errors.New("no chrome or chromium binary found in PATH")
}

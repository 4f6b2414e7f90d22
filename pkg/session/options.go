package session

import (
	"net/url"
	"strings"
	"time"

	"github.com/odvcencio/meetprobe/pkg/browser"
	apperrors "github.com/odvcencio/meetprobe/pkg/errors"
	"github.com/odvcencio/meetprobe/pkg/probe"
)

// Options configure one run.
type Options struct {
	// MeetingURL is the conference page to join. Required.
	MeetingURL string
	// Token is handed to the browser adapter untouched.
	Token string

	ConnectTimeout    time.Duration
	PollInterval      time.Duration
	ObservationWindow time.Duration
	// SteadySampleInterval samples the bitrate during the observation
	// window. Zero disables sampling.
	SteadySampleInterval time.Duration
	TeardownGrace        time.Duration
	// TeardownTimeout bounds the whole teardown, grace included.
	TeardownTimeout time.Duration

	Scripts probe.Scripts
	// Browser is the startup template; the controller fills in the ids,
	// URL and token.
	Browser browser.SessionConfig
}

// DefaultOptions returns the timings of a standard run.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:    60 * time.Second,
		PollInterval:      5 * time.Second,
		ObservationWindow: 60 * time.Second,
		TeardownGrace:     2 * time.Second,
		TeardownTimeout:   15 * time.Second,
		Scripts:           probe.DefaultScripts(),
		Browser:           browser.DefaultSessionConfig(),
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	meetingURL := strings.TrimSpace(o.MeetingURL)
	if meetingURL == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "meeting URL is required")
	}
	parsed, err := url.Parse(meetingURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "meeting URL %q is not an absolute URL", meetingURL)
	}
	if o.PollInterval <= 0 {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "poll interval must be positive, got %s", o.PollInterval)
	}
	if o.ConnectTimeout < 0 || o.ObservationWindow < 0 || o.TeardownGrace < 0 || o.SteadySampleInterval < 0 {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "durations must not be negative")
	}
	if o.TeardownTimeout <= o.TeardownGrace {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"teardown timeout %s must exceed teardown grace %s", o.TeardownTimeout, o.TeardownGrace)
	}
	return nil
}

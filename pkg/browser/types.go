package browser

import (
	"net/url"
	"strings"
)

// Viewport defines the browser window size.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// SessionConfig configures a browser session.
type SessionConfig struct {
	SessionID string `json:"session_id"`
	// InitialURL is loaded by the controller through Navigate, not at launch.
	InitialURL string `json:"initial_url,omitempty"`
	// AuthToken is opaque to the controller and handed to the adapter.
	AuthToken string   `json:"-"`
	Viewport  Viewport `json:"viewport"`
	// Flags are extra browser command line switches.
	Flags []string `json:"flags,omitempty"`
	// Display is the X display the browser renders to.
	Display string `json:"display,omitempty"`
	// ConsoleLogging asks the adapter to capture the page console.
	ConsoleLogging bool `json:"console_logging"`
}

// MeetingFlags are the switches a conference client needs: auto-accept the
// media permission prompt, fill the screen, and log verbosely.
var MeetingFlags = []string{
	"--use-fake-ui-for-media-stream",
	"--start-maximized",
	"--kiosk",
	"--enabled",
	"--enable-logging",
	"--vmodule=*=3",
}

// DefaultSessionConfig returns the startup configuration for a conference
// session.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Viewport: Viewport{
			Width:  1280,
			Height: 720,
		},
		Flags:          append([]string(nil), MeetingFlags...),
		Display:        ":0",
		ConsoleLogging: true,
	}
}

// WithAuthToken returns rawURL with token attached as the jwt query
// parameter. URLs that already carry a jwt, and empty tokens, are returned
// unchanged.
func WithAuthToken(rawURL, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return rawURL, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	if query.Get("jwt") != "" {
		return rawURL, nil
	}
	query.Set("jwt", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

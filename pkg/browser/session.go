package browser

import (
	"context"
	"encoding/json"
)

//go:generate mockgen -destination=mocks/mock_browser.go -package=mocks github.com/odvcencio/meetprobe/pkg/browser Runtime,RemoteSession

// Runtime launches remote browser sessions.
type Runtime interface {
	NewSession(ctx context.Context, cfg SessionConfig) (RemoteSession, error)
	Close() error
}

// RemoteSession is the port implemented by browser runtime adapters. The
// session controller only ever navigates, runs scripts and closes.
type RemoteSession interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	// RunScript executes a function body in the page and returns its JSON
	// encoded return value. An undefined result is returned as null.
	RunScript(ctx context.Context, script string) (json.RawMessage, error)
	Close() error
}

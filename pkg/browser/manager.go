package browser

import (
	"context"
	"errors"
	"sync/atomic"
)

// Manager owns the single live session of a run. The active reference is
// set once the session is launched and cleared by Release, so a signal
// arriving at any point sees either the current session or nothing.
type Manager struct {
	runtime Runtime
	active  atomic.Pointer[sessionRef]
	metrics *Metrics
}

type sessionRef struct {
	session RemoteSession
}

// NewManager creates a Manager backed by the provided runtime.
func NewManager(runtime Runtime, metrics *Metrics) *Manager {
	return &Manager{runtime: runtime, metrics: metrics}
}

// Launch starts a new session and records it as the active one.
func (m *Manager) Launch(ctx context.Context, cfg SessionConfig) (RemoteSession, error) {
	if m == nil || m.runtime == nil {
		return nil, ErrUnavailable
	}
	if cfg.SessionID == "" {
		return nil, errors.New("session_id is required")
	}
	if m.active.Load() != nil {
		return nil, errors.New("a session is already active")
	}

	sess, err := m.runtime.NewSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if !m.active.CompareAndSwap(nil, &sessionRef{session: sess}) {
		_ = sess.Close()
		return nil, errors.New("a session is already active")
	}
	m.metrics.RecordSessionCreated(sess.ID())
	return sess, nil
}

// Active returns the live session, if any.
func (m *Manager) Active() (RemoteSession, bool) {
	if m == nil {
		return nil, false
	}
	ref := m.active.Load()
	if ref == nil {
		return nil, false
	}
	return ref.session, true
}

// Detach clears the active reference and hands the session to the caller,
// who becomes responsible for closing it. Only the first caller gets it.
func (m *Manager) Detach() (RemoteSession, bool) {
	if m == nil {
		return nil, false
	}
	ref := m.active.Swap(nil)
	if ref == nil {
		return nil, false
	}
	return ref.session, true
}

// Release detaches and closes the active session. It is safe to call more
// than once; only the first call closes anything.
func (m *Manager) Release() error {
	sess, ok := m.Detach()
	if !ok {
		return nil
	}
	return m.closeSession(sess)
}

// CloseSession closes a session previously obtained from Detach.
func (m *Manager) CloseSession(sess RemoteSession) error {
	if sess == nil {
		return ErrSessionClosed
	}
	return m.closeSession(sess)
}

func (m *Manager) closeSession(sess RemoteSession) error {
	err := sess.Close()
	m.metrics.RecordSessionClosed(sess.ID())
	return err
}

// Close releases the active session and the runtime.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	lastErr := m.Release()
	if m.runtime != nil {
		if err := m.runtime.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

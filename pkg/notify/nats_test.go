package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/odvcencio/meetprobe/pkg/errors"
	"github.com/odvcencio/meetprobe/pkg/telemetry"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu       sync.Mutex
	messages []published
	failOn   string
	flushes  int
	closed   bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subject == f.failOn {
		return errors.New("nats: connection closed")
	}
	f.messages = append(f.messages, published{subject: subject, data: data})
	return nil
}

func (f *fakeConn) FlushTimeout(time.Duration) error {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.subject)
	}
	return out
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "meetprobe.events.run.completed", Subject(DefaultSubjectPrefix, telemetry.EventRunCompleted))
	assert.Equal(t, "lab.browser.session_created", Subject("lab", telemetry.EventBrowserSessionCreated))
}

func TestNewPublisherNormalizesPrefix(t *testing.T) {
	assert.Equal(t, DefaultSubjectPrefix, newPublisher(&fakeConn{}, "  ", nil).prefix)
	assert.Equal(t, "lab.meet", newPublisher(&fakeConn{}, ".lab.meet.", nil).prefix)
}

func TestPublishEncodesEvent(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "", nil)
	ok := testutil.ToFloat64(telemetry.EventsPublished.WithLabelValues("nats", "ok"))

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.Publish(telemetry.Event{
		Type:      telemetry.EventRunCompleted,
		Timestamp: ts,
		RunID:     "01hx",
		Data:      map[string]any{"disposition": "connected"},
	})
	require.NoError(t, err)
	require.Len(t, fc.messages, 1)
	assert.Equal(t, "meetprobe.events.run.completed", fc.messages[0].subject)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(fc.messages[0].data, &decoded))
	assert.Equal(t, "run.completed", decoded["type"])
	assert.Equal(t, "01hx", decoded["runId"])
	assert.Equal(t, "connected", decoded["data"].(map[string]any)["disposition"])
	assert.Equal(t, ok+1, testutil.ToFloat64(telemetry.EventsPublished.WithLabelValues("nats", "ok")))
}

func TestPublishFailureIsCoded(t *testing.T) {
	fc := &fakeConn{failOn: "meetprobe.events.teardown.failed"}
	p := newPublisher(fc, "", nil)

	err := p.Publish(telemetry.Event{Type: telemetry.EventTeardownFailed})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePublish))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestForwardDrainsUntilHubCloses(t *testing.T) {
	fc := &fakeConn{failOn: "meetprobe.events.phase.entered"}
	p := newPublisher(fc, "", nil)
	hub := telemetry.NewHub()
	events, _ := hub.Subscribe()

	hub.Publish(telemetry.Event{Type: telemetry.EventRunStarted})
	hub.Publish(telemetry.Event{Type: telemetry.EventPhaseEntered})
	hub.Publish(telemetry.Event{Type: telemetry.EventRunCompleted})
	hub.Close()

	require.NoError(t, p.Forward(context.Background(), events))
	assert.Equal(t, []string{
		"meetprobe.events.run.started",
		"meetprobe.events.run.completed",
	}, fc.subjects(), "a failed publish does not stop forwarding")
	assert.Equal(t, 1, fc.flushes)

	require.NoError(t, p.Close())
	assert.True(t, fc.closed)
}

func TestForwardStopsOnContextCancel(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- p.Forward(ctx, make(chan telemetry.Event)) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Forward did not return after cancel")
	}
	assert.Equal(t, 1, fc.flushes)
}

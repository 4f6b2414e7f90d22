package session_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/odvcencio/meetprobe/pkg/browser"
	"github.com/odvcencio/meetprobe/pkg/browser/mocks"
	"github.com/odvcencio/meetprobe/pkg/clock"
	apperrors "github.com/odvcencio/meetprobe/pkg/errors"
	"github.com/odvcencio/meetprobe/pkg/logging"
	"github.com/odvcencio/meetprobe/pkg/probe"
	"github.com/odvcencio/meetprobe/pkg/session"
	"github.com/odvcencio/meetprobe/pkg/telemetry"
)

const meetingURL = "https://meet.example.com/TestRoom"

type fixture struct {
	t       *testing.T
	runtime *mocks.MockRuntime
	sess    *mocks.MockRemoteSession
	clock   *clock.FakeClock
	hub     *telemetry.Hub
	metrics *browser.Metrics
	logs    syncBuffer
}

// syncBuffer guards log output written from teardown and run goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		t:       t,
		runtime: mocks.NewMockRuntime(ctrl),
		sess:    mocks.NewMockRemoteSession(ctrl),
		clock:   clock.Fake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		hub:     telemetry.NewHub(),
		metrics: browser.NewMetrics(),
	}
	f.sess.EXPECT().ID().Return("testroom-run").AnyTimes()
	return f
}

func (f *fixture) controller(mutate func(*session.Options)) *session.Controller {
	f.t.Helper()
	opts := session.DefaultOptions()
	opts.MeetingURL = meetingURL
	opts.Token = "secret"
	if mutate != nil {
		mutate(&opts)
	}
	logger, err := logging.NewLogger("session", logging.Options{Level: "info", Format: "text", Output: &f.logs})
	require.NoError(f.t, err)
	c, err := session.NewController(opts, session.Deps{
		Runtime: f.runtime,
		Clock:   f.clock,
		Logger:  logger,
		Hub:     f.hub,
		Metrics: f.metrics,
		RunID:   "run",
	})
	require.NoError(f.t, err)
	return c
}

func (f *fixture) expectLaunch() {
	f.runtime.EXPECT().NewSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cfg browser.SessionConfig) (browser.RemoteSession, error) {
			assert.Equal(f.t, "testroom-run", cfg.SessionID)
			assert.Equal(f.t, meetingURL, cfg.InitialURL)
			assert.Equal(f.t, "secret", cfg.AuthToken)
			assert.Contains(f.t, cfg.Flags, "--use-fake-ui-for-media-stream")
			return f.sess, nil
		})
	f.sess.EXPECT().Navigate(gomock.Any(), meetingURL).Return(nil)
}

// onScript answers script with fn, passing the 1-based call number.
func (f *fixture) onScript(script string, fn func(call int) (json.RawMessage, error)) {
	var mu sync.Mutex
	calls := 0
	f.sess.EXPECT().RunScript(gomock.Any(), script).
		DoAndReturn(func(context.Context, string) (json.RawMessage, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			return fn(n)
		}).AnyTimes()
}

func (f *fixture) expectTeardown(disconnectErr error) {
	gomock.InOrder(
		f.sess.EXPECT().RunScript(gomock.Any(), probe.DisconnectScript).Return(json.RawMessage("null"), disconnectErr),
		f.sess.EXPECT().Close().Return(nil),
	)
}

func connectedOn(n int) func(int) (json.RawMessage, error) {
	return func(call int) (json.RawMessage, error) {
		if call >= n {
			return json.RawMessage("true"), nil
		}
		return json.RawMessage("false"), nil
	}
}

func bitrate(value string) func(int) (json.RawMessage, error) {
	return func(int) (json.RawMessage, error) {
		return json.RawMessage(`{"bitrate":{"download":` + value + `}}`), nil
	}
}

func TestRunConnectsAndObserves(t *testing.T) {
	f := newFixture(t)
	f.expectLaunch()
	f.onScript(probe.ConnectedScript, connectedOn(2))
	f.onScript(probe.StatsScript, bitrate("512"))
	f.expectTeardown(nil)

	events, unsubscribe := f.hub.Subscribe()
	defer unsubscribe()

	before := testutil.ToFloat64(telemetry.RunOutcomes.WithLabelValues("connected"))
	c := f.controller(nil)
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, session.DispositionConnected, report.Disposition)
	assert.Equal(t, session.DispositionConnected, c.Disposition())
	assert.Equal(t, session.StateTerminated, c.State())
	assert.Equal(t, "testroom-run", report.SessionID)
	assert.Equal(t, 2, report.Connect.Attempts)
	assert.Equal(t, 1, report.Throughput.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 60 * time.Second, 2 * time.Second}, f.clock.Sleeps())
	assert.Equal(t, 67*time.Second, report.Duration())
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.RunOutcomes.WithLabelValues("connected")))
	assert.Contains(t, f.logs.String(), "Successful connection to meet")
	assert.Contains(t, f.logs.String(), "Successfully receiving data in meet, observing for 1m0s")

	snap := f.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.SessionsCreated)
	assert.Equal(t, int64(1), snap.SessionsClosed)
	assert.Equal(t, int64(1), snap.NavigateCount)

	var last telemetry.Event
	for len(events) > 0 {
		last = <-events
	}
	assert.Equal(t, telemetry.EventRunCompleted, last.Type)
	assert.Equal(t, "connected", last.Data["disposition"])
}

func TestRunFailsToConnect(t *testing.T) {
	f := newFixture(t)
	f.expectLaunch()
	f.onScript(probe.ConnectedScript, func(int) (json.RawMessage, error) {
		return nil, browser.NewDriverError(browser.CodeScriptException, "APP is not defined")
	})
	f.expectTeardown(nil)

	c := f.controller(nil)
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, session.DispositionFailedToConnect, report.Disposition)
	assert.Equal(t, probe.TimedOut, report.Connect.Status)
	assert.Equal(t, 13, report.Connect.Attempts)
	assert.GreaterOrEqual(t, report.Connect.Elapsed, 60*time.Second)
	assert.Less(t, report.Connect.Elapsed, 65*time.Second)
	assert.Zero(t, report.Throughput.Attempts, "throughput must not be polled")
	assert.True(t, report.Disposition.Failed())
}

func TestRunFailsToReceiveData(t *testing.T) {
	f := newFixture(t)
	f.expectLaunch()
	f.onScript(probe.ConnectedScript, connectedOn(1))
	f.onScript(probe.StatsScript, func(call int) (json.RawMessage, error) {
		if call%2 == 0 {
			return json.RawMessage("null"), nil
		}
		return json.RawMessage(`{"bitrate":{"download":0}}`), nil
	})
	f.expectTeardown(nil)

	report, err := f.controller(nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, session.DispositionFailedToReceiveData, report.Disposition)
	assert.Equal(t, probe.TimedOut, report.Throughput.Status)
	assert.Equal(t, 13, report.Throughput.Attempts)
	assert.Contains(t, f.logs.String(), "Failed to receive data in meet client")
	assert.NotContains(t, f.logs.String(), "Successfully receiving data")
}

func TestRunTerminatedBySignal(t *testing.T) {
	f := newFixture(t)
	f.expectLaunch()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onScript(probe.ConnectedScript, func(call int) (json.RawMessage, error) {
		if call == 2 {
			cancel()
		}
		return json.RawMessage("false"), nil
	})
	f.expectTeardown(nil)

	c := f.controller(nil)
	report, err := c.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, session.DispositionTerminated, report.Disposition)
	assert.Equal(t, session.StateTerminated, c.State())
	assert.Equal(t, []time.Duration{5 * time.Second, 2 * time.Second}, f.clock.Sleeps())

	c.Teardown()
	assert.Equal(t, int64(1), f.metrics.Snapshot().SessionsClosed)
}

func TestRunFatalErrorStillTearsDown(t *testing.T) {
	f := newFixture(t)
	f.expectLaunch()
	f.onScript(probe.ConnectedScript, func(int) (json.RawMessage, error) {
		return nil, browser.ErrConnectionLost
	})
	f.expectTeardown(browser.ErrConnectionLost)

	before := testutil.ToFloat64(telemetry.TeardownFailures.WithLabelValues("disconnect"))
	report, err := f.controller(nil).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrConnectionLost)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCommandFailed))
	assert.Equal(t, session.DispositionErrored, report.Disposition)
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.TeardownFailures.WithLabelValues("disconnect")))
}

func TestRunLaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.runtime.EXPECT().NewSession(gomock.Any(), gomock.Any()).Return(nil, errors.New("chrome not found"))

	report, err := f.controller(nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeLaunchFailed))
	assert.Equal(t, session.DispositionErrored, report.Disposition)
	assert.Empty(t, f.clock.Sleeps(), "no grace delay without a session")
}

func TestRunNavigateFailureReleasesSession(t *testing.T) {
	f := newFixture(t)
	f.runtime.EXPECT().NewSession(gomock.Any(), gomock.Any()).Return(f.sess, nil)
	f.sess.EXPECT().Navigate(gomock.Any(), meetingURL).
		Return(browser.NewDriverError(browser.CodeNavigation, "net::ERR_NAME_NOT_RESOLVED"))
	f.expectTeardown(nil)

	report, err := f.controller(nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNavigateFailed))
	assert.Equal(t, session.DispositionErrored, report.Disposition)
}

func TestRunSamplesSteadyState(t *testing.T) {
	f := newFixture(t)
	f.expectLaunch()
	f.onScript(probe.ConnectedScript, connectedOn(1))
	f.onScript(probe.StatsScript, bitrate("300"))
	f.expectTeardown(nil)

	report, err := f.controller(func(o *session.Options) {
		o.SteadySampleInterval = 25 * time.Second
	}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, session.DispositionConnected, report.Disposition)
	assert.Equal(t, []float64{300, 300, 300}, report.Samples)
	assert.Equal(t, []time.Duration{25 * time.Second, 25 * time.Second, 10 * time.Second, 2 * time.Second}, f.clock.Sleeps())
}

func TestTeardownIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.expectLaunch()
	f.onScript(probe.ConnectedScript, connectedOn(1))
	f.onScript(probe.StatsScript, bitrate("100"))
	f.expectTeardown(nil)

	c := f.controller(nil)
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Teardown()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), f.metrics.Snapshot().SessionsClosed)
}

func TestTeardownBeforeRunSkipsLaunch(t *testing.T) {
	f := newFixture(t)
	c := f.controller(nil)

	c.Teardown()
	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.DispositionTerminated, report.Disposition)
	assert.Equal(t, session.StateTerminated, c.State())
}

func TestRunOnlyOnce(t *testing.T) {
	f := newFixture(t)
	c := f.controller(nil)
	c.Teardown()
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInternal))
}

func TestNewControllerValidatesOptions(t *testing.T) {
	runtime := mocks.NewMockRuntime(gomock.NewController(t))
	tests := []struct {
		name   string
		mutate func(*session.Options)
	}{
		{"missing url", func(o *session.Options) { o.MeetingURL = "" }},
		{"relative url", func(o *session.Options) { o.MeetingURL = "TestRoom" }},
		{"zero interval", func(o *session.Options) { o.PollInterval = 0 }},
		{"negative window", func(o *session.Options) { o.ObservationWindow = -time.Second }},
		{"teardown timeout below grace", func(o *session.Options) { o.TeardownTimeout = time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := session.DefaultOptions()
			opts.MeetingURL = meetingURL
			tt.mutate(&opts)
			_, err := session.NewController(opts, session.Deps{Runtime: runtime})
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
		})
	}

	opts := session.DefaultOptions()
	opts.MeetingURL = meetingURL
	_, err := session.NewController(opts, session.Deps{})
	require.Error(t, err)
}

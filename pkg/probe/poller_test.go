package probe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/meetprobe/pkg/clock"
	"github.com/odvcencio/meetprobe/pkg/probe"
	"github.com/odvcencio/meetprobe/pkg/telemetry"
)

// scriptedProbe returns results in order, repeating the last one.
type scriptedProbe struct {
	results []probe.Result
	errs    map[int]error
	cost    time.Duration
	clock   *clock.FakeClock
	calls   int
	onCall  func(call int)
}

func (p *scriptedProbe) Name() string { return "scripted" }

func (p *scriptedProbe) Check(ctx context.Context) (probe.Result, error) {
	p.calls++
	if p.onCall != nil {
		p.onCall(p.calls)
	}
	if p.cost > 0 {
		p.clock.Advance(p.cost)
	}
	if err := p.errs[p.calls]; err != nil {
		return probe.Result{}, err
	}
	idx := p.calls - 1
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	return p.results[idx], nil
}

func never() []probe.Result {
	return []probe.Result{probe.ConnectedResult(false)}
}

func epoch() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestWaitUntilImmediateSuccess(t *testing.T) {
	clk := clock.Fake(epoch())
	p := &scriptedProbe{results: []probe.Result{probe.ConnectedResult(true)}}

	out, err := probe.NewPoller(clk, nil).WaitUntil(context.Background(), p, 60*time.Second, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, probe.Succeeded, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Zero(t, out.Elapsed)
	assert.Empty(t, clk.Sleeps())
}

func TestWaitUntilSucceedsOnNthCheck(t *testing.T) {
	clk := clock.Fake(epoch())
	p := &scriptedProbe{results: []probe.Result{
		probe.BitrateResult(0),
		probe.BitrateResult(0),
		probe.BitrateResult(0),
		probe.BitrateResult(250),
	}}

	out, err := probe.NewPoller(clk, nil).WaitUntil(context.Background(), p, 30*time.Second, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, probe.Succeeded, out.Status)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, 15*time.Second, out.Elapsed)
	assert.Equal(t, 250.0, out.Last.Rate())
}

func TestWaitUntilSuccessElapsedTracksCheckCount(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		interval time.Duration
		failures int
	}{
		{"timeout not a multiple of interval", 7 * time.Second, 5 * time.Second, 2},
		{"success past the timeout boundary", 12 * time.Second, 5 * time.Second, 3},
		{"interval longer than timeout", 3 * time.Second, 5 * time.Second, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.Fake(epoch())
			results := make([]probe.Result, 0, tt.failures+1)
			for i := 0; i < tt.failures; i++ {
				results = append(results, probe.ConnectedResult(false))
			}
			p := &scriptedProbe{results: append(results, probe.ConnectedResult(true))}

			out, err := probe.NewPoller(clk, nil).WaitUntil(context.Background(), p, tt.timeout, tt.interval)
			require.NoError(t, err)
			n := tt.failures + 1
			assert.Equal(t, probe.Succeeded, out.Status)
			assert.Equal(t, n, out.Attempts)
			assert.GreaterOrEqual(t, out.Elapsed, time.Duration(n-1)*tt.interval)
			assert.LessOrEqual(t, out.Elapsed, time.Duration(n)*tt.interval)
			require.Len(t, clk.Sleeps(), tt.failures)
			for _, s := range clk.Sleeps() {
				assert.Equal(t, tt.interval, s)
			}
		})
	}
}

func TestWaitUntilTimesOutWithinBounds(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		interval time.Duration
		attempts int
	}{
		{"divisible", 60 * time.Second, 5 * time.Second, 13},
		{"remainder", 12 * time.Second, 5 * time.Second, 4},
		{"interval longer than timeout", 3 * time.Second, 5 * time.Second, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.Fake(epoch())
			p := &scriptedProbe{results: never()}

			out, err := probe.NewPoller(clk, nil).WaitUntil(context.Background(), p, tt.timeout, tt.interval)
			require.NoError(t, err)
			assert.Equal(t, probe.TimedOut, out.Status)
			assert.Equal(t, tt.attempts, out.Attempts)
			assert.GreaterOrEqual(t, out.Elapsed, tt.timeout)
			assert.Less(t, out.Elapsed, tt.timeout+tt.interval)

			sleeps := clk.Sleeps()
			require.Len(t, sleeps, tt.attempts-1)
			for _, s := range sleeps {
				assert.Equal(t, tt.interval, s)
			}
		})
	}
}

func TestWaitUntilAccountsForProbeLatency(t *testing.T) {
	clk := clock.Fake(epoch())
	p := &scriptedProbe{results: never(), cost: 2 * time.Second, clock: clk}

	// Checks end at 2s, 9s and 16s; the deadline is seen on the third.
	out, err := probe.NewPoller(clk, nil).WaitUntil(context.Background(), p, 10*time.Second, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, probe.TimedOut, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 16*time.Second, out.Elapsed)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clk.Sleeps())
}

func TestWaitUntilZeroTimeoutChecksOnce(t *testing.T) {
	clk := clock.Fake(epoch())
	p := &scriptedProbe{results: never()}

	out, err := probe.NewPoller(clk, nil).WaitUntil(context.Background(), p, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, probe.TimedOut, out.Status)
	assert.Equal(t, 1, out.Attempts)
}

func TestWaitUntilRejectsNonPositiveInterval(t *testing.T) {
	p := &scriptedProbe{results: never()}
	_, err := probe.NewPoller(clock.Fake(epoch()), nil).WaitUntil(context.Background(), p, time.Second, 0)
	require.Error(t, err)
	assert.Zero(t, p.calls)
}

func TestWaitUntilStopsOnProbeError(t *testing.T) {
	clk := clock.Fake(epoch())
	fatal := errors.New("connection lost")
	p := &scriptedProbe{results: never(), errs: map[int]error{3: fatal}}

	out, err := probe.NewPoller(clk, nil).WaitUntil(context.Background(), p, time.Minute, 5*time.Second)
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 10*time.Second, out.Elapsed)
}

func TestWaitUntilStopsWhenContextCancelled(t *testing.T) {
	clk := clock.Fake(epoch())
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedProbe{results: never(), onCall: func(call int) {
		if call == 2 {
			cancel()
		}
	}}

	out, err := probe.NewPoller(clk, nil).WaitUntil(ctx, p, time.Minute, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, out.Attempts)
}

func TestWaitUntilPublishesEvents(t *testing.T) {
	hub := telemetry.NewHub()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	clk := clock.Fake(epoch())
	p := &scriptedProbe{results: []probe.Result{probe.ConnectedResult(false), probe.ConnectedResult(true)}}

	_, err := probe.NewPoller(clk, nil).WithEvents(hub, "run-1").
		WaitUntil(context.Background(), p, time.Minute, time.Second)
	require.NoError(t, err)

	var types []telemetry.EventType
	for len(events) > 0 {
		ev := <-events
		assert.Equal(t, "run-1", ev.RunID)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []telemetry.EventType{
		telemetry.EventProbeEvaluated,
		telemetry.EventProbeEvaluated,
		telemetry.EventPollCompleted,
	}, types)
}

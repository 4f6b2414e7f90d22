package probe_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/meetprobe/pkg/browser"
	"github.com/odvcencio/meetprobe/pkg/probe"
)

func TestThroughputReadsDownloadBitrate(t *testing.T) {
	exec, sess := newExecutor(t)
	sess.EXPECT().RunScript(gomockAny(), probe.StatsScript).
		Return(raw(`{"bitrate":{"download":842,"upload":120},"packetLoss":{"total":0}}`), nil)

	throughput := probe.NewThroughput(exec, "", nil)
	assert.Equal(t, "throughput", throughput.Name())
	assert.Equal(t, 842.0, throughput.Bitrate(context.Background()))
}

func TestThroughputZeroCases(t *testing.T) {
	tests := []struct {
		name  string
		value string
		err   error
	}{
		{name: "null stats", value: "null"},
		{name: "empty object", value: "{}"},
		{name: "bitrate without download", value: `{"bitrate":{"upload":5}}`},
		{name: "zero download", value: `{"bitrate":{"download":0}}`},
		{name: "negative download", value: `{"bitrate":{"download":-12}}`},
		{name: "lost connection", err: browser.ErrConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, sess := newExecutor(t)
			if tt.err != nil {
				sess.EXPECT().RunScript(gomockAny(), gomockAny()).Return(nil, tt.err)
			} else {
				sess.EXPECT().RunScript(gomockAny(), gomockAny()).Return(raw(tt.value), nil)
			}

			result, err := probe.NewThroughput(exec, "", nil).Check(context.Background())
			require.NoError(t, err)
			assert.Equal(t, probe.KindBitrate, result.Kind())
			assert.Zero(t, result.Rate())
			assert.False(t, result.OK())
		})
	}
}

func TestThroughputClassifiesFailures(t *testing.T) {
	tests := []struct {
		name  string
		value string
		err   error
		want  probe.FailureKind
	}{
		{name: "download not a number", value: `{"bitrate":{"download":"fast"}}`, want: probe.FailureDecode},
		{name: "stats not an object", value: `[1,2]`, want: probe.FailureDecode},
		{name: "driver error", err: browser.NewDriverError(browser.CodeScriptException, "getStats is not a function"), want: probe.FailureDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, sess := newExecutor(t)
			if tt.err != nil {
				sess.EXPECT().RunScript(gomockAny(), gomockAny()).Return(nil, tt.err).Times(2)
			} else {
				sess.EXPECT().RunScript(gomockAny(), gomockAny()).Return(raw(tt.value), nil).Times(2)
			}

			throughput := probe.NewThroughput(exec, "", nil)
			result, err := throughput.Check(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Failure())
			assert.False(t, result.OK())
			assert.Zero(t, throughput.Bitrate(context.Background()))
		})
	}
}

func TestDecodeStats(t *testing.T) {
	_, err := probe.DecodeStats(raw("  "))
	assert.ErrorIs(t, err, probe.ErrNoStats)

	stats, err := probe.DecodeStats(raw(`{"bitrate":{"download":1.5}}`))
	require.NoError(t, err)
	rate, ok := stats.DownloadBitrate()
	assert.True(t, ok)
	assert.Equal(t, 1.5, rate)

	_, err = probe.DecodeStats(raw(`"stats"`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, probe.ErrNoStats)

	var missing *probe.Stats
	_, ok = missing.DownloadBitrate()
	assert.False(t, ok)
}

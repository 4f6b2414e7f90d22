package probe

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odvcencio/meetprobe/pkg/logging"
	"github.com/odvcencio/meetprobe/pkg/telemetry"
)

// Throughput reads the inbound media rate from the page statistics.
type Throughput struct {
	exec   *Executor
	script string
	logger *logging.Logger
}

// NewThroughput creates the probe. An empty script uses StatsScript.
func NewThroughput(exec *Executor, script string, logger *logging.Logger) *Throughput {
	if script == "" {
		script = StatsScript
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Throughput{exec: exec, script: script, logger: logger}
}

// Name identifies the probe in logs and metrics.
func (t *Throughput) Name() string { return "throughput" }

// Check never returns an error. A driver failure or a malformed statistics
// payload yields the matching failure result; every other miss, including a
// fatal command error, reads as a zero bitrate.
func (t *Throughput) Check(ctx context.Context) (Result, error) {
	return t.sample(ctx), nil
}

// Bitrate returns the current download bitrate, or 0 when it is
// unavailable for any reason.
func (t *Throughput) Bitrate(ctx context.Context) float64 {
	return t.sample(ctx).Rate()
}

func (t *Throughput) sample(ctx context.Context) Result {
	raw, err := t.exec.Run(ctx, t.script)
	if err != nil {
		t.logger.Debug("getDownloadBitrate", slog.String("error", err.Error()))
		if IsFailure(err, FailureDriver) {
			return FailureResult(FailureDriver)
		}
		return BitrateResult(0)
	}
	stats, err := DecodeStats(raw)
	switch {
	case errors.Is(err, ErrNoStats):
		t.logger.Debug("getDownloadBitrate", slog.String("error", err.Error()))
		return BitrateResult(0)
	case err != nil:
		t.logger.Debug("getDownloadBitrate", slog.String("error", err.Error()), slog.String("raw", string(raw)))
		return FailureResult(FailureDecode)
	}
	rate, ok := stats.DownloadBitrate()
	if !ok {
		t.logger.Debug("getDownloadBitrate", slog.String("error", "bitrate.download missing"))
		return BitrateResult(0)
	}
	result := BitrateResult(rate)
	telemetry.InboundBitrate.Set(result.Rate())
	t.logger.Debug("getDownloadBitrate", slog.Float64("download", result.Rate()))
	return result
}

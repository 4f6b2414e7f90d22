package probe

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/odvcencio/meetprobe/pkg/logging"
)

// Connectivity asks the page whether its signaling connection is up.
type Connectivity struct {
	exec   *Executor
	script string
	logger *logging.Logger
}

// NewConnectivity creates the probe. An empty script uses ConnectedScript.
func NewConnectivity(exec *Executor, script string, logger *logging.Logger) *Connectivity {
	if script == "" {
		script = ConnectedScript
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Connectivity{exec: exec, script: script, logger: logger}
}

// Name identifies the probe in logs and metrics.
func (c *Connectivity) Name() string { return "connectivity" }

// Check runs the command once. Driver failures yield a FailureDriver result
// and a nil error; unrecognized failures are returned as errors.
func (c *Connectivity) Check(ctx context.Context) (Result, error) {
	raw, err := c.exec.Run(ctx, c.script)
	if err != nil {
		if IsFailure(err, FailureDriver) {
			c.logger.Debug("isXMPPConnected", slog.String("result", "driver_error"))
			return FailureResult(FailureDriver), nil
		}
		return Result{}, err
	}

	var connected bool
	if err := json.Unmarshal(raw, &connected); err != nil {
		connected = false
	}
	c.logger.Info("isXMPPConnected", slog.Bool("connected", connected), slog.String("raw", string(raw)))
	return ConnectedResult(connected), nil
}

// Connected is the boolean form of Check: any recognized failure reads as
// not yet connected.
func (c *Connectivity) Connected(ctx context.Context) (bool, error) {
	result, err := c.Check(ctx)
	if err != nil {
		return false, err
	}
	return result.IsConnected(), nil
}

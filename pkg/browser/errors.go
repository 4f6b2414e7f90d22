package browser

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable      = errors.New("browser runtime unavailable")
	ErrSessionClosed    = errors.New("browser session closed")
	ErrConnectionLost   = errors.New("devtools connection lost")
	ErrOperationTimeout = errors.New("operation timeout")
)

// Driver error codes reported by adapters.
const (
	CodeScriptException = "script_exception"
	CodeProtocol        = "protocol_error"
	CodeTimeout         = "timeout"
	CodeTargetClosed    = "target_closed"
	CodeNavigation      = "navigation_failed"
)

// DriverError is a failure reported by the remote browser while executing a
// command: the page threw, the target went away, or the command did not
// complete in time. The session itself is still usable.
type DriverError struct {
	Code    string
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("driver error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("driver error [%s]: %s", e.Code, e.Message)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError creates a new DriverError.
func NewDriverError(code, message string) *DriverError {
	return &DriverError{Code: code, Message: message}
}

// WrapDriverError wraps an existing error with driver context.
func WrapDriverError(code, message string, err error) *DriverError {
	return &DriverError{Code: code, Message: message, Err: err}
}

// IsDriverError reports whether err is a recognized, recoverable driver
// failure. Lost connections and unavailable runtimes are not.
func IsDriverError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrUnavailable) {
		return false
	}
	if errors.Is(err, ErrOperationTimeout) {
		return true
	}
	var driverErr *DriverError
	return errors.As(err, &driverErr)
}

// IsConnectionError returns true if the error indicates a lost connection.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) {
		return true
	}
	var driverErr *DriverError
	if errors.As(err, &driverErr) {
		return driverErr.Code == CodeTargetClosed
	}
	return false
}

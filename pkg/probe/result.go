package probe

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Kind tags the variant held by a Result.
type Kind int

const (
	KindConnected Kind = iota + 1
	KindBitrate
	KindFailure
)

// FailureKind classifies a failed evaluation.
type FailureKind string

const (
	// FailureDriver means the remote browser could not execute the command.
	FailureDriver FailureKind = "driver_error"
	// FailureDecode means the command ran but returned an unexpected shape.
	FailureDecode FailureKind = "decode_error"
)

// Result is the outcome of one probe evaluation. It holds exactly one of a
// connected flag, a bitrate, or a failure kind.
type Result struct {
	kind      Kind
	connected bool
	bitrate   float64
	failure   FailureKind
}

// ConnectedResult reports whether the signaling channel is up.
func ConnectedResult(connected bool) Result {
	return Result{kind: KindConnected, connected: connected}
}

// BitrateResult reports an inbound rate. Negative and non-finite values are
// stored as zero.
func BitrateResult(rate float64) Result {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		rate = 0
	}
	return Result{kind: KindBitrate, bitrate: rate}
}

// FailureResult reports a failed evaluation.
func FailureResult(kind FailureKind) Result {
	return Result{kind: KindFailure, failure: kind}
}

// Kind returns the result variant.
func (r Result) Kind() Kind { return r.kind }

// IsConnected returns the connected flag; false for other variants.
func (r Result) IsConnected() bool { return r.kind == KindConnected && r.connected }

// Rate returns the bitrate; zero for other variants.
func (r Result) Rate() float64 {
	if r.kind != KindBitrate {
		return 0
	}
	return r.bitrate
}

// Failure returns the failure kind, or "" when the evaluation succeeded.
func (r Result) Failure() FailureKind {
	if r.kind != KindFailure {
		return ""
	}
	return r.failure
}

// OK is the success predicate: connected, or a bitrate above zero.
func (r Result) OK() bool {
	switch r.kind {
	case KindConnected:
		return r.connected
	case KindBitrate:
		return r.bitrate > 0
	default:
		return false
	}
}

// Label buckets the result for metrics: success, negative or failure.
func (r Result) Label() string {
	switch {
	case r.kind == KindFailure:
		return "failure"
	case r.OK():
		return "success"
	default:
		return "negative"
	}
}

// String renders the literal result for logs.
func (r Result) String() string {
	switch r.kind {
	case KindConnected:
		return strconv.FormatBool(r.connected)
	case KindBitrate:
		return strconv.FormatFloat(r.bitrate, 'f', -1, 64)
	case KindFailure:
		return fmt.Sprintf("failure(%s)", r.failure)
	default:
		return "none"
	}
}

// Failure is the error returned by Executor.Run for recognized, recoverable
// command failures.
type Failure struct {
	Kind   FailureKind
	Script string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsFailure reports whether err is a *Failure of the given kind.
func IsFailure(err error, kind FailureKind) bool {
	var failure *Failure
	if !errors.As(err, &failure) {
		return false
	}
	return failure.Kind == kind
}

package session

// State is a phase of the session controller.
type State int32

const (
	StateInitialized State = iota
	StateLaunched
	StateAwaitingConnectivity
	StateAwaitingThroughput
	StateSteadyState
	StateTearingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateLaunched:
		return "launched"
	case StateAwaitingConnectivity:
		return "awaiting_connectivity"
	case StateAwaitingThroughput:
		return "awaiting_throughput"
	case StateSteadyState:
		return "steady_state"
	case StateTearingDown:
		return "tearing_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Disposition is the final outcome of a run.
type Disposition string

const (
	// DispositionPending means the run has not finished.
	DispositionPending             Disposition = ""
	DispositionConnected           Disposition = "connected"
	DispositionFailedToConnect     Disposition = "failed_to_connect"
	DispositionFailedToReceiveData Disposition = "failed_to_receive_data"
	DispositionTerminated          Disposition = "terminated"
	DispositionErrored             Disposition = "errored"
)

// Failed reports whether the disposition means the meeting did not work.
func (d Disposition) Failed() bool {
	switch d {
	case DispositionFailedToConnect, DispositionFailedToReceiveData, DispositionErrored:
		return true
	default:
		return false
	}
}

package supervisor

// State is the supervisor lifecycle state. States only move forward.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateShuttingDown
	StateTerminated
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

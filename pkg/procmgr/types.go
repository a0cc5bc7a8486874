package procmgr

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/jrepp/prism-supervisor/pkg/worker"
)

var (
	// ErrUnknownProcess is returned when signalling a pid the launcher does not track
	ErrUnknownProcess = errors.New("unknown process")
	// ErrNoChildren is returned by WaitAny when nothing is left to wait for
	ErrNoChildren = errors.New("no child processes")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("process manager closed")
)

// ProcessID identifies a launched OS process
type ProcessID int

// Entry is what the launcher needs to start one child process
type Entry struct {
	ChildID    string
	InstanceID string
	Worker     worker.Worker
}

// ExitClass classifies a child exit for restart decisions
type ExitClass int

const (
	// Normal - exit code 0
	Normal ExitClass = iota
	// Abnormal - non-zero exit code or killed by a signal
	Abnormal
)

// String returns the string representation of an ExitClass
func (c ExitClass) String() string {
	switch c {
	case Normal:
		return "normal"
	case Abnormal:
		return "abnormal"
	default:
		return "unknown"
	}
}

// ExitStatus describes how a child process ended
type ExitStatus struct {
	Code   int
	Signal syscall.Signal // zero unless the process was killed by a signal
}

// Class reports whether the exit was Normal or Abnormal
func (s ExitStatus) Class() ExitClass {
	if s.Signal == 0 && s.Code == 0 {
		return Normal
	}
	return Abnormal
}

// String returns a human readable exit description
func (s ExitStatus) String() string {
	if s.Signal != 0 {
		return fmt.Sprintf("killed by signal %d (%s)", int(s.Signal), s.Signal)
	}
	return fmt.Sprintf("exited with code %d", s.Code)
}

// EventKind is the outcome of a single WaitAny call
type EventKind int

const (
	// Exited - a tracked process terminated and has been reaped
	Exited EventKind = iota
	// TimedOut - the wait deadline passed with no exit
	TimedOut
	// Interrupted - an interrupt signal arrived or the context was cancelled
	Interrupted
	// Woken - Wake was called by another goroutine
	Woken
)

// String returns the string representation of an EventKind
func (k EventKind) String() string {
	switch k {
	case Exited:
		return "Exited"
	case TimedOut:
		return "TimedOut"
	case Interrupted:
		return "Interrupted"
	case Woken:
		return "Woken"
	default:
		return "Unknown"
	}
}

// WaitEvent is returned by WaitAny. PID and Status are set for Exited only.
type WaitEvent struct {
	Kind   EventKind
	PID    ProcessID
	Status ExitStatus
}

// SignalKind selects how a termination request is delivered
type SignalKind int

const (
	// Graceful asks the process to stop (SIGTERM)
	Graceful SignalKind = iota
	// Forceful terminates the process without cooperation (SIGKILL)
	Forceful
)

// String returns the string representation of a SignalKind
func (k SignalKind) String() string {
	switch k {
	case Graceful:
		return "graceful"
	case Forceful:
		return "forceful"
	default:
		return "unknown"
	}
}

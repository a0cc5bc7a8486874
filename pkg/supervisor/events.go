package supervisor

import (
	"context"
	"time"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

// EventType identifies a supervisor lifecycle event
type EventType int

const (
	EventChildStarted EventType = iota
	EventChildExited
	EventChildRestarted
	EventChildStopped
	EventStartupFailed
	EventIntensityExceeded
	EventStateChanged
)

// String returns the string representation of an EventType
func (t EventType) String() string {
	switch t {
	case EventChildStarted:
		return "child_started"
	case EventChildExited:
		return "child_exited"
	case EventChildRestarted:
		return "child_restarted"
	case EventChildStopped:
		return "child_stopped"
	case EventStartupFailed:
		return "startup_failed"
	case EventIntensityExceeded:
		return "intensity_exceeded"
	case EventStateChanged:
		return "state_changed"
	default:
		return "unknown"
	}
}

// Event is a supervisor lifecycle event. Fields that do not apply to Type are
// left zero.
type Event struct {
	Time       time.Time
	Type       EventType
	Supervisor string
	ChildID    string
	InstanceID string
	PID        procmgr.ProcessID
	Status     *procmgr.ExitStatus
	State      State
	Err        error
}

// EventSink receives lifecycle events from the control loop. Publish must not
// block; sinks that do I/O buffer internally.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// NoopEventSink discards every event
type NoopEventSink struct{}

// Publish does nothing
func (NoopEventSink) Publish(context.Context, Event) {}

// EventSinks fans an event out to several sinks
type EventSinks []EventSink

// Publish forwards ev to every sink in order
func (s EventSinks) Publish(ctx context.Context, ev Event) {
	for _, sink := range s {
		sink.Publish(ctx, ev)
	}
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ctx context.Context, ev Event)

// Publish calls f
func (f EventSinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

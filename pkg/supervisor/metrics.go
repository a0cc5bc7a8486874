package supervisor

import (
	"time"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

// MetricsCollector defines the interface for collecting supervisor metrics
type MetricsCollector interface {
	// StateTransition records a supervisor state change
	StateTransition(from, to State)

	// ChildStarted records a successful launch
	ChildStarted(childID string)

	// ChildExited records an observed exit
	ChildExited(childID string, class procmgr.ExitClass)

	// ChildRestart records a restart performed under strategy
	ChildRestart(childID string, strategy Strategy)

	// IntensityExceeded records a rate limiter veto
	IntensityExceeded()

	// ShutdownDuration records how long a child took to stop after its first signal
	ShutdownDuration(childID string, policy ShutdownPolicy, duration time.Duration)

	// ChildrenRunning records the size of the record table
	ChildrenRunning(n int)

	// RestartWindowSize records the number of restarts inside the current window
	RestartWindowSize(n int)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) StateTransition(State, State)                          {}
func (n *noopMetricsCollector) ChildStarted(string)                                     {}
func (n *noopMetricsCollector) ChildExited(string, procmgr.ExitClass)                   {}
func (n *noopMetricsCollector) ChildRestart(string, Strategy)                           {}
func (n *noopMetricsCollector) IntensityExceeded()                                      {}
func (n *noopMetricsCollector) ShutdownDuration(string, ShutdownPolicy, time.Duration)  {}
func (n *noopMetricsCollector) ChildrenRunning(int)                                     {}
func (n *noopMetricsCollector) RestartWindowSize(int)                                   {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}

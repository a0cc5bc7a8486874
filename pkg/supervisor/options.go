package supervisor

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option configures the Supervisor
type Option func(*Supervisor)

// WithName sets the name used in logs, events and health output
func WithName(name string) Option {
	return func(s *Supervisor) {
		s.name = name
	}
}

// WithLauncher sets the process launcher. Without it a procmgr.ProcessManager
// owned by the supervisor is used.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		s.launcher = l
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.log = logger
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *Supervisor) {
		s.metrics = mc
	}
}

// WithEventSink adds a lifecycle event sink. It may be given more than once.
func WithEventSink(sink EventSink) Option {
	return func(s *Supervisor) {
		s.sinks = append(s.sinks, sink)
	}
}

// WithTracer sets the tracer used for restart spans
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Supervisor) {
		s.tracer = tracer
	}
}

// WithClock sets the time source for the restart window and record timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		s.now = now
	}
}

// WithInstanceIDs sets the generator for per-launch instance identities
func WithInstanceIDs(gen func() string) Option {
	return func(s *Supervisor) {
		s.newInstanceID = gen
	}
}

// Package supervisor implements an OTP-style process supervision tree.
//
// A Supervisor launches one OS process per ChildSpec through a Launcher,
// waits for exits and relaunches children according to its restart strategy,
// each child's lifetime policy and a sliding restart-rate limit. Run is the
// control loop: the goroutine calling it is the only one that mutates
// supervisor state. Other goroutines interact through requests that wake the
// loop (AddChild, DeleteChild, TerminateChild, RestartChild) and through the
// snapshot it publishes (Health, WhichChildren, CountChildren).
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

// Launcher creates, signals and waits for child processes
type Launcher interface {
	// Spawn starts a new process running entry
	Spawn(entry procmgr.Entry) (procmgr.ProcessID, error)

	// WaitAny blocks until a child exits, deadline passes (zero means no
	// deadline), an interrupt is requested or Wake is called
	WaitAny(ctx context.Context, deadline time.Time) (procmgr.WaitEvent, error)

	// Signal sends a graceful or forceful termination request
	Signal(pid procmgr.ProcessID, kind procmgr.SignalKind) error

	// Wake makes the current or next WaitAny return a Woken event
	Wake()
}

// startupReapTimeout bounds reaping of children killed during a failed startup
const startupReapTimeout = 10 * time.Second

// Supervisor owns a set of child specs and keeps their processes alive
type Supervisor struct {
	name  string
	flags Flags
	specs []ChildSpec

	launcher     Launcher
	ownsLauncher bool
	log          *slog.Logger
	metrics      MetricsCollector
	sinks        EventSinks
	tracer       trace.Tracer

	now           func() time.Time
	newInstanceID func() string

	state    atomic.Int32
	snapshot atomic.Pointer[HealthCheck]
	requests chan *request
	done     chan struct{}

	// Owned by the control goroutine.
	table        *recordTable
	window       *restartWindow
	deadlines    *deadlineQueue
	restarts     map[string]int
	pendingExits []exitNotice
	wakePending  bool
}

// exitNotice is an exit observed while the loop was busy stopping other
// children. Its record is already out of the table.
type exitNotice struct {
	rec *ChildRecord
	ev  procmgr.WaitEvent
}

// New creates a supervisor for specs. Specs are validated when Run starts.
func New(flags Flags, specs []ChildSpec, opts ...Option) (*Supervisor, error) {
	if flags.Period() <= 0 {
		return nil, ErrInvalidConfiguration("flags", flags.String(), "flags must be built with NewFlags")
	}

	s := &Supervisor{
		name:          "supervisor",
		flags:         flags,
		specs:         append([]ChildSpec(nil), specs...),
		metrics:       NewNoopMetricsCollector(),
		tracer:        otel.Tracer("github.com/jrepp/prism-supervisor/pkg/supervisor"),
		now:           time.Now,
		newInstanceID: func() string { return xid.New().String() },
		requests:      make(chan *request, 64),
		done:          make(chan struct{}),
		table:         newRecordTable(),
		window:        newRestartWindow(flags.Intensity(), flags.Period()),
		deadlines:     newDeadlineQueue(),
		restarts:      make(map[string]int),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = slog.Default().With("component", "supervisor", "supervisor", s.name)
	}
	if s.launcher == nil {
		l, err := defaultLauncher()
		if err != nil {
			return nil, err
		}
		s.launcher = l
		s.ownsLauncher = true
	}

	s.publishSnapshot()
	return s, nil
}

// Name returns the supervisor name
func (s *Supervisor) Name() string { return s.name }

// Flags returns the supervisor flags
func (s *Supervisor) Flags() Flags { return s.flags }

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Done is closed once Run has returned
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Run launches every child and supervises them until the tree terminates. It
// returns nil only when every child has exited with nothing left to restart.
// Cancelling ctx is handled like an interrupt. Run may only be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateStarting)) {
		return NewError(ErrorCodeInvalidState, "supervisor can only be run once").
			WithContext("state", s.State().String())
	}
	defer close(s.done)
	defer s.closeLauncher()
	s.transitioned(ctx, StateUninitialized, StateStarting)

	s.log.Info("starting supervisor",
		"strategy", s.flags.Strategy().String(),
		"intensity", s.flags.Intensity(),
		"period", s.flags.Period(),
		"children", len(s.specs))

	if err := s.start(ctx); err != nil {
		s.setState(ctx, StateTerminated)
		return err
	}

	s.setState(ctx, StateRunning)
	cause := s.loop(ctx)
	if cause == nil {
		s.log.Info("all children finished, supervisor terminating")
		s.setState(ctx, StateTerminated)
		return nil
	}

	s.setState(ctx, StateShuttingDown)
	s.shutdown(context.WithoutCancel(ctx), cause)
	s.setState(ctx, StateTerminated)
	return cause
}

// start launches every spec in declaration order
func (s *Supervisor) start(ctx context.Context) error {
	if err := Validate(s.flags, s.specs); err != nil {
		s.log.Error("invalid child specs", "error", err)
		return err
	}

	for i := range s.specs {
		if _, err := s.launch(ctx, i); err != nil {
			id := s.specs[i].ID()
			s.log.Error("child failed to launch, aborting startup", "child_id", id, "error", err)
			s.publish(ctx, Event{Type: EventStartupFailed, ChildID: id, Err: err})
			s.abortStartup()
			return ErrStartupFailed(id, err)
		}
	}
	return nil
}

// abortStartup kills and reaps every child launched so far
func (s *Supervisor) abortStartup() {
	for _, rec := range s.table.ordered() {
		s.sendSignal(rec, procmgr.Forceful)
	}

	deadline := time.Now().Add(startupReapTimeout)
	for s.table.len() > 0 {
		ev, err := s.launcher.WaitAny(context.Background(), deadline)
		if err != nil {
			s.log.Error("failed to reap children after startup failure", "error", err)
			return
		}
		switch ev.Kind {
		case procmgr.Exited:
			s.table.remove(ev.PID)
		case procmgr.TimedOut:
			s.log.Error("children did not exit after forceful kill", "remaining", s.table.len())
			return
		}
	}
}

// launch spawns the spec at index and records it
func (s *Supervisor) launch(ctx context.Context, index int) (procmgr.ProcessID, error) {
	spec := s.specs[index]
	instance := s.newInstanceID()

	pid, err := s.launcher.Spawn(procmgr.Entry{
		ChildID:    spec.ID(),
		InstanceID: instance,
		Worker:     spec.Worker(),
	})
	if err != nil {
		return 0, ErrForkFailed(spec.ID(), err)
	}

	rec := &ChildRecord{
		SpecIndex:  index,
		ChildID:    spec.ID(),
		InstanceID: instance,
		PID:        pid,
		StartedAt:  s.now(),
	}
	s.table.insert(rec)

	s.metrics.ChildStarted(spec.ID())
	s.publish(ctx, Event{Type: EventChildStarted, ChildID: spec.ID(), InstanceID: instance, PID: pid})
	s.log.Info("child started", "child_id", spec.ID(), "pid", pid, "instance", instance)
	return pid, nil
}

// loop is the Running state. It returns nil when the table is empty, or the
// error that must take the tree down.
func (s *Supervisor) loop(ctx context.Context) error {
	for {
		if len(s.pendingExits) > 0 {
			n := s.pendingExits[0]
			s.pendingExits = s.pendingExits[1:]
			if err := s.handleExit(ctx, n.rec, n.ev); err != nil {
				return err
			}
			continue
		}

		if s.wakePending {
			s.wakePending = false
			s.serveRequests(ctx)
		}

		if s.table.len() == 0 {
			return nil
		}

		s.publishSnapshot()
		ev, err := s.launcher.WaitAny(ctx, s.deadlines.earliest())
		if err != nil {
			s.log.Error("wait for children failed", "error", err)
			return ErrWaitFailed(err)
		}

		switch ev.Kind {
		case procmgr.Exited:
			rec, ok := s.table.get(ev.PID)
			if !ok {
				s.log.Warn("exit reported for untracked process", "pid", ev.PID)
				continue
			}
			s.table.remove(ev.PID)
			if err := s.handleExit(ctx, rec, ev); err != nil {
				return err
			}
		case procmgr.TimedOut:
			s.enforceDeadlines()
		case procmgr.Interrupted:
			s.log.Info("interrupt requested, shutting down")
			return ErrInterrupted()
		case procmgr.Woken:
			s.serveRequests(ctx)
		}
	}
}

// handleExit processes the exit of rec, already removed from the table
func (s *Supervisor) handleExit(ctx context.Context, rec *ChildRecord, ev procmgr.WaitEvent) error {
	s.deadlines.remove(rec.PID)
	status := ev.Status
	class := status.Class()

	s.metrics.ChildExited(rec.ChildID, class)
	s.publish(ctx, Event{
		Type:       EventChildExited,
		ChildID:    rec.ChildID,
		InstanceID: rec.InstanceID,
		PID:        rec.PID,
		Status:     &status,
	})

	if rec.stopping {
		s.stopped(ctx, rec, ev)
		return nil
	}

	if _, relaunched := s.table.forIndex(rec.SpecIndex); relaunched {
		s.log.Debug("exit superseded by a group restart", "child_id", rec.ChildID, "pid", rec.PID)
		return nil
	}

	spec := s.specs[rec.SpecIndex]
	s.log.Info("child exited",
		"child_id", rec.ChildID,
		"pid", rec.PID,
		"status", status.String(),
		"class", class.String(),
		"lifetime", spec.Lifetime().String(),
		"uptime", s.now().Sub(rec.StartedAt))

	p := planRestart(s.flags.Strategy(), rec, class, s.specs, s.table)
	if p.empty() {
		s.log.Info("child will not be restarted", "child_id", rec.ChildID, "lifetime", spec.Lifetime().String())
		return nil
	}
	return s.execute(ctx, rec, p)
}

// execute charges the limiter, stops and relaunches per p
func (s *Supervisor) execute(ctx context.Context, trigger *ChildRecord, p plan) error {
	ctx, span := s.tracer.Start(ctx, "supervisor.restart", trace.WithAttributes(
		attribute.String("supervisor.name", s.name),
		attribute.String("supervisor.strategy", s.flags.Strategy().String()),
		attribute.String("child.id", trigger.ChildID),
		attribute.Int("plan.stop", len(p.ToStop)),
		attribute.Int("plan.restart", len(p.ToRestart)),
	))
	defer span.End()

	now := s.now()
	if !s.window.charge(now, len(p.ToRestart)) {
		err := ErrRestartIntensityExceeded(trigger.ChildID, s.flags.Intensity(), s.flags.Period())
		s.metrics.IntensityExceeded()
		s.publish(ctx, Event{Type: EventIntensityExceeded, ChildID: trigger.ChildID, Err: err})
		s.log.Error("restart intensity exceeded, escalating",
			"child_id", trigger.ChildID,
			"intensity", s.flags.Intensity(),
			"period", s.flags.Period())
		span.RecordError(err)
		span.SetStatus(codes.Error, "restart intensity exceeded")
		return err
	}
	s.metrics.RestartWindowSize(s.window.size(now))

	if len(p.ToStop) > 0 {
		if err := s.stopChildren(ctx, p.ToStop); err != nil {
			span.RecordError(err)
			return err
		}
	}

	for _, index := range p.ToRestart {
		id := s.specs[index].ID()
		pid, err := s.launch(ctx, index)
		if err != nil {
			s.log.Error("restart failed", "child_id", id, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "restart failed")
			return err
		}
		s.restarts[id]++
		s.metrics.ChildRestart(id, s.flags.Strategy())
		s.publish(ctx, Event{Type: EventChildRestarted, ChildID: id, PID: pid})
		s.log.Info("child restarted", "child_id", id, "pid", pid, "restarts", s.restarts[id])
	}
	return nil
}

// stopChildren terminates recs under their shutdown policies and waits for
// them. Exits of other children seen meanwhile are queued.
func (s *Supervisor) stopChildren(ctx context.Context, recs []*ChildRecord) error {
	waiting := make(map[procmgr.ProcessID]bool, len(recs))
	for _, rec := range recs {
		waiting[rec.PID] = true
		s.beginStop(rec)
	}

	for len(waiting) > 0 {
		ev, err := s.launcher.WaitAny(ctx, s.deadlines.earliest())
		if err != nil {
			return ErrWaitFailed(err)
		}

		switch ev.Kind {
		case procmgr.Exited:
			rec, ok := s.table.get(ev.PID)
			if !ok {
				continue
			}
			s.table.remove(ev.PID)
			if waiting[ev.PID] {
				delete(waiting, ev.PID)
				s.deadlines.remove(ev.PID)
				s.stopped(ctx, rec, ev)
				continue
			}
			s.pendingExits = append(s.pendingExits, exitNotice{rec: rec, ev: ev})
		case procmgr.TimedOut:
			s.enforceDeadlines()
		case procmgr.Interrupted:
			s.log.Info("interrupt requested while restarting, abandoning restart")
			return ErrInterrupted()
		case procmgr.Woken:
			s.wakePending = true
		}
	}
	return nil
}

// beginStop sends the first termination signal for rec
func (s *Supervisor) beginStop(rec *ChildRecord) {
	if rec.stopping {
		return
	}
	rec.stopping = true

	policy := s.specs[rec.SpecIndex].Shutdown()
	switch policy.Kind {
	case ShutdownBrutalKill:
		s.sendSignal(rec, procmgr.Forceful)
	case ShutdownInfinity:
		s.sendSignal(rec, procmgr.Graceful)
	case ShutdownTimeout:
		s.sendSignal(rec, procmgr.Graceful)
		s.deadlines.set(rec.PID, rec.stopStarted.Add(policy.Timeout))
	}

	s.log.Debug("stopping child", "child_id", rec.ChildID, "pid", rec.PID, "shutdown", policy.String())
}

// sendSignal signals rec and stamps when the first signal went out
func (s *Supervisor) sendSignal(rec *ChildRecord, kind procmgr.SignalKind) {
	if err := s.launcher.Signal(rec.PID, kind); err != nil {
		s.log.Warn("failed to signal child",
			"child_id", rec.ChildID,
			"pid", rec.PID,
			"signal", kind.String(),
			"error", err)
	}
	if rec.stopStarted.IsZero() {
		rec.stopStarted = time.Now()
	}
}

// enforceDeadlines forcefully kills children whose shutdown timeout elapsed
func (s *Supervisor) enforceDeadlines() {
	for _, pid := range s.deadlines.expired(time.Now()) {
		rec, ok := s.table.get(pid)
		if !ok {
			continue
		}
		s.log.Warn("shutdown timeout elapsed, killing child",
			"child_id", rec.ChildID,
			"pid", pid,
			"waited", time.Since(rec.stopStarted))
		s.sendSignal(rec, procmgr.Forceful)
	}
}

// stopped finishes bookkeeping for a child stopped by the supervisor
func (s *Supervisor) stopped(ctx context.Context, rec *ChildRecord, ev procmgr.WaitEvent) {
	policy := s.specs[rec.SpecIndex].Shutdown()
	took := time.Since(rec.stopStarted)

	s.metrics.ShutdownDuration(rec.ChildID, policy, took)
	status := ev.Status
	s.publish(ctx, Event{
		Type:       EventChildStopped,
		ChildID:    rec.ChildID,
		InstanceID: rec.InstanceID,
		PID:        rec.PID,
		Status:     &status,
	})
	s.log.Info("child stopped",
		"child_id", rec.ChildID,
		"pid", rec.PID,
		"status", status.String(),
		"took", took)

	if len(rec.stopWaiters) > 0 {
		s.publishSnapshot()
		for _, reply := range rec.stopWaiters {
			reply <- response{pid: rec.PID}
		}
		rec.stopWaiters = nil
	}
}

// shutdown terminates every remaining child, in reverse declaration order
func (s *Supervisor) shutdown(ctx context.Context, cause error) {
	s.log.Info("shutting down children", "remaining", s.table.len(), "cause", cause)

	for _, n := range s.pendingExits {
		s.log.Debug("dropping exit observed before shutdown", "child_id", n.rec.ChildID, "pid", n.rec.PID)
	}
	s.pendingExits = nil

	recs := s.table.ordered()
	for i := len(recs) - 1; i >= 0; i-- {
		s.beginStop(recs[i])
	}

	for s.table.len() > 0 {
		s.publishSnapshot()
		ev, err := s.launcher.WaitAny(ctx, s.deadlines.earliest())
		if err != nil {
			s.log.Error("wait failed during shutdown, killing remaining children", "error", err)
			for _, rec := range s.table.ordered() {
				s.sendSignal(rec, procmgr.Forceful)
			}
			return
		}

		switch ev.Kind {
		case procmgr.Exited:
			rec, ok := s.table.get(ev.PID)
			if !ok {
				continue
			}
			s.table.remove(ev.PID)
			s.deadlines.remove(ev.PID)
			s.stopped(ctx, rec, ev)
		case procmgr.TimedOut:
			s.enforceDeadlines()
		case procmgr.Interrupted:
			s.log.Info("already shutting down", "remaining", s.table.len())
		case procmgr.Woken:
			s.rejectRequests()
		}
	}
	s.publishSnapshot()
}

// setState moves to a later state
func (s *Supervisor) setState(ctx context.Context, to State) {
	from := State(s.state.Swap(int32(to)))
	s.transitioned(ctx, from, to)
}

func (s *Supervisor) transitioned(ctx context.Context, from, to State) {
	s.metrics.StateTransition(from, to)
	s.publish(ctx, Event{Type: EventStateChanged, State: to})
	s.log.Debug("state transition", "from", from.String(), "to", to.String())
	if to == StateTerminated {
		s.rejectRequests()
		s.publishSnapshot()
	}
}

// publish stamps and forwards an event to every sink
func (s *Supervisor) publish(ctx context.Context, ev Event) {
	if len(s.sinks) == 0 {
		return
	}
	ev.Time = s.now()
	ev.Supervisor = s.name
	s.sinks.Publish(ctx, ev)
}

func (s *Supervisor) closeLauncher() {
	if !s.ownsLauncher {
		return
	}
	if c, ok := s.launcher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.log.Warn("failed to close launcher", "error", err)
		}
	}
}

// Validate checks specs against flags the way Run does before launching
// anything
func Validate(flags Flags, specs []ChildSpec) error {
	if err := validateSpecs(specs); err != nil {
		return err
	}
	if flags.Strategy() == SimpleOneForOne {
		return checkHomogeneous(specs)
	}
	return nil
}

// checkHomogeneous requires every pool spec to share lifetime, shutdown and role
func checkHomogeneous(specs []ChildSpec) error {
	for i := 1; i < len(specs); i++ {
		if err := SameShape(specs[0], specs[i]); err != nil {
			return err
		}
	}
	return nil
}

// SameShape reports an error unless b could join a simple_one_for_one pool
// whose children look like a
func SameShape(a, b ChildSpec) error {
	if a.Lifetime() != b.Lifetime() || a.Shutdown() != b.Shutdown() || a.Role() != b.Role() {
		return ErrInvalidConfiguration("child spec", b.ID(),
			fmt.Sprintf("simple_one_for_one children must match %s", a)).
			WithSuggestion("Use identical restart, shutdown and role for every pool child")
	}
	return nil
}

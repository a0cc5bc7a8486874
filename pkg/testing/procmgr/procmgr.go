// Package procmgr provides a scripted in-memory process launcher for testing
// code that supervises child processes.
package procmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

// Behavior scripts one simulated process
type Behavior struct {
	// ExitAfter is how long the process runs before exiting by itself.
	// Negative runs until signalled.
	ExitAfter time.Duration
	ExitCode  int

	// IgnoreGraceful keeps the process running after a graceful signal
	IgnoreGraceful bool
	// GracefulDelay is how long a cooperative process takes to exit after a
	// graceful signal
	GracefulDelay time.Duration

	// FailSpawn makes Spawn return an error instead of starting the process
	FailSpawn bool
}

// Common behaviors
var (
	Crash      = Behavior{ExitAfter: 0, ExitCode: 1}
	Complete   = Behavior{ExitAfter: 0, ExitCode: 0}
	RunForever = Behavior{ExitAfter: -1}
	Stubborn   = Behavior{ExitAfter: -1, IgnoreGraceful: true}
	SpawnError = Behavior{FailSpawn: true}
)

// Spawn records one launch
type Spawn struct {
	PID        procmgr.ProcessID
	ChildID    string
	InstanceID string
	At         time.Time
}

// Signal records one delivered signal
type Signal struct {
	PID     procmgr.ProcessID
	ChildID string
	Kind    procmgr.SignalKind
	At      time.Time
}

// ManagedProcess is one simulated child
type ManagedProcess struct {
	PID      procmgr.ProcessID
	ChildID  string
	Started  time.Time
	behavior Behavior
	timer    *time.Timer
	exited   bool
}

// Launcher is an in-memory implementation of the supervisor's launcher
type Launcher struct {
	mu        sync.Mutex
	nextPID   procmgr.ProcessID
	scripts   map[string][]Behavior
	processes map[procmgr.ProcessID]*ManagedProcess
	exited    []procmgr.WaitEvent
	spawns    []Spawn
	signals   []Signal
	waitErr   error

	notifyCh    chan struct{}
	wakeCh      chan struct{}
	interruptCh chan struct{}
}

// NewLauncher creates an empty launcher. Unscripted children run forever.
func NewLauncher() *Launcher {
	return &Launcher{
		nextPID:     1000,
		scripts:     make(map[string][]Behavior),
		processes:   make(map[procmgr.ProcessID]*ManagedProcess),
		notifyCh:    make(chan struct{}, 1),
		wakeCh:      make(chan struct{}, 1),
		interruptCh: make(chan struct{}, 1),
	}
}

// Script sets the behaviors of successive launches of childID. The last
// behavior repeats.
func (l *Launcher) Script(childID string, behaviors ...Behavior) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts[childID] = behaviors
}

func (l *Launcher) nextBehavior(childID string) Behavior {
	script := l.scripts[childID]
	switch len(script) {
	case 0:
		return RunForever
	case 1:
		return script[0]
	default:
		l.scripts[childID] = script[1:]
		return script[0]
	}
}

// Spawn implements the launcher contract
func (l *Launcher) Spawn(entry procmgr.Entry) (procmgr.ProcessID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.nextBehavior(entry.ChildID)
	if b.FailSpawn {
		return 0, fmt.Errorf("spawn %s: %w", entry.ChildID, syscall.EAGAIN)
	}

	l.nextPID++
	p := &ManagedProcess{
		PID:      l.nextPID,
		ChildID:  entry.ChildID,
		Started:  time.Now(),
		behavior: b,
	}
	l.processes[p.PID] = p
	l.spawns = append(l.spawns, Spawn{PID: p.PID, ChildID: entry.ChildID, InstanceID: entry.InstanceID, At: p.Started})

	if b.ExitAfter >= 0 {
		pid, code := p.PID, b.ExitCode
		p.timer = time.AfterFunc(b.ExitAfter, func() {
			l.exit(pid, procmgr.ExitStatus{Code: code})
		})
	}
	return p.PID, nil
}

// Exit makes a running process exit with code
func (l *Launcher) Exit(pid procmgr.ProcessID, code int) {
	l.exit(pid, procmgr.ExitStatus{Code: code})
}

func (l *Launcher) exit(pid procmgr.ProcessID, status procmgr.ExitStatus) {
	l.mu.Lock()
	p, ok := l.processes[pid]
	if !ok || p.exited {
		l.mu.Unlock()
		return
	}
	p.exited = true
	if p.timer != nil {
		p.timer.Stop()
	}
	l.exited = append(l.exited, procmgr.WaitEvent{Kind: procmgr.Exited, PID: pid, Status: status})
	l.mu.Unlock()

	select {
	case l.notifyCh <- struct{}{}:
	default:
	}
}

// Signal implements the launcher contract
func (l *Launcher) Signal(pid procmgr.ProcessID, kind procmgr.SignalKind) error {
	l.mu.Lock()
	p, ok := l.processes[pid]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("signal %d: %w", pid, procmgr.ErrUnknownProcess)
	}
	l.signals = append(l.signals, Signal{PID: pid, ChildID: p.ChildID, Kind: kind, At: time.Now()})
	b := p.behavior
	l.mu.Unlock()

	switch {
	case kind == procmgr.Forceful:
		l.exit(pid, procmgr.ExitStatus{Code: -1, Signal: syscall.SIGKILL})
	case b.IgnoreGraceful:
	case b.GracefulDelay > 0:
		time.AfterFunc(b.GracefulDelay, func() {
			l.exit(pid, procmgr.ExitStatus{Code: -1, Signal: syscall.SIGTERM})
		})
	default:
		l.exit(pid, procmgr.ExitStatus{Code: -1, Signal: syscall.SIGTERM})
	}
	return nil
}

// WaitAny implements the launcher contract
func (l *Launcher) WaitAny(ctx context.Context, deadline time.Time) (procmgr.WaitEvent, error) {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		l.mu.Lock()
		if l.waitErr != nil {
			err := l.waitErr
			l.mu.Unlock()
			return procmgr.WaitEvent{}, err
		}
		if len(l.exited) > 0 {
			ev := l.exited[0]
			l.exited = l.exited[1:]
			delete(l.processes, ev.PID)
			l.mu.Unlock()
			return ev, nil
		}
		l.mu.Unlock()

		select {
		case <-l.notifyCh:
		case <-l.wakeCh:
			return procmgr.WaitEvent{Kind: procmgr.Woken}, nil
		case <-l.interruptCh:
			return procmgr.WaitEvent{Kind: procmgr.Interrupted}, nil
		case <-ctx.Done():
			return procmgr.WaitEvent{Kind: procmgr.Interrupted}, nil
		case <-timeout:
			return procmgr.WaitEvent{Kind: procmgr.TimedOut}, nil
		}
	}
}

// Wake implements the launcher contract
func (l *Launcher) Wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// Interrupt simulates an interrupt signal delivered to the supervisor
func (l *Launcher) Interrupt() {
	select {
	case l.interruptCh <- struct{}{}:
	default:
	}
}

// FailWait makes every following WaitAny return err
func (l *Launcher) FailWait(err error) {
	if err == nil {
		err = errors.New("wait failed")
	}
	l.mu.Lock()
	l.waitErr = err
	l.mu.Unlock()
	l.Wake()
}

// Spawns returns every launch so far
func (l *Launcher) Spawns() []Spawn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Spawn(nil), l.spawns...)
}

// SpawnsOf returns the launches of childID
func (l *Launcher) SpawnsOf(childID string) []Spawn {
	var out []Spawn
	for _, s := range l.Spawns() {
		if s.ChildID == childID {
			out = append(out, s)
		}
	}
	return out
}

// Signals returns every delivered signal so far
func (l *Launcher) Signals() []Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Signal(nil), l.signals...)
}

// SignalsOf returns the signals delivered to childID
func (l *Launcher) SignalsOf(childID string) []Signal {
	var out []Signal
	for _, s := range l.Signals() {
		if s.ChildID == childID {
			out = append(out, s)
		}
	}
	return out
}

// PIDOf returns the pid of the live process running childID
func (l *Launcher) PIDOf(childID string) (procmgr.ProcessID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for pid, p := range l.processes {
		if p.ChildID == childID && !p.exited {
			return pid, true
		}
	}
	return 0, false
}

// Running returns the number of live processes
func (l *Launcher) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.processes {
		if !p.exited {
			n++
		}
	}
	return n
}

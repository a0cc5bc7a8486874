//go:build unix

package procmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jrepp/prism-supervisor/pkg/worker"
)

// ProcessManager launches supervised children as independent OS processes and
// multiplexes their exits, interrupt signals and wake-ups into WaitAny.
//
// An exited child stays a zombie until WaitAny reports it, so its pid cannot
// be reused while the caller may still hold a record for it.
type ProcessManager struct {
	mu      sync.Mutex
	procs   map[ProcessID]*process
	exited  []*process
	closed  bool
	signals []os.Signal

	notifyCh chan struct{}
	wakeCh   chan struct{}
	sigCh    chan os.Signal

	executable string
	args       []string
	env        []string
	stdout     io.Writer
	stderr     io.Writer
	log        *slog.Logger
}

// process is one launched child
type process struct {
	pid       ProcessID
	entry     Entry
	cmd       *exec.Cmd
	startedAt time.Time
	status    *ExitStatus // set when the watcher had to reap directly
}

// NewProcessManager creates a process manager. By default children re-execute
// the current binary with its current arguments, and SIGINT/SIGTERM delivered
// to the supervisor are reported as Interrupted.
func NewProcessManager(opts ...Option) *ProcessManager {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	pm := &ProcessManager{
		procs:      make(map[ProcessID]*process),
		signals:    []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		notifyCh:   make(chan struct{}, 1),
		wakeCh:     make(chan struct{}, 1),
		sigCh:      make(chan os.Signal, 1),
		executable: exe,
		args:       os.Args[1:],
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		log:        slog.Default().With("component", "procmgr"),
	}

	for _, opt := range opts {
		opt(pm)
	}

	if len(pm.signals) > 0 {
		signal.Notify(pm.sigCh, pm.signals...)
	}

	return pm
}

// Spawn starts a new child process for entry
func (pm *ProcessManager) Spawn(entry Entry) (ProcessID, error) {
	if entry.Worker == nil {
		return 0, fmt.Errorf("child %q has no worker", entry.ChildID)
	}

	pm.mu.Lock()
	closed := pm.closed
	pm.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	cmd := pm.command(entry)
	cmd.SysProcAttr = sysProcAttr()
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start child %q: %w", entry.ChildID, err)
	}

	p := &process{
		pid:       ProcessID(cmd.Process.Pid),
		entry:     entry,
		cmd:       cmd,
		startedAt: time.Now(),
	}

	pm.mu.Lock()
	pm.procs[p.pid] = p
	pm.mu.Unlock()

	go pm.watch(p)

	pm.log.Debug("spawned child",
		"child_id", entry.ChildID,
		"instance", entry.InstanceID,
		"pid", p.pid,
		"path", cmd.Path)

	return p.pid, nil
}

// command builds the exec.Cmd for an entry
func (pm *ProcessManager) command(entry Entry) *exec.Cmd {
	var cmd *exec.Cmd

	if exe, ok := entry.Worker.(worker.Executable); ok {
		path, args, env, dir := exe.CommandLine()
		cmd = exec.Command(path, args...)
		cmd.Env = append(env, EnvInstanceID+"="+entry.InstanceID)
		cmd.Dir = dir
	} else {
		cmd = exec.Command(pm.executable, pm.args...)
		cmd.Env = append(os.Environ(), pm.env...)
		cmd.Env = append(cmd.Env,
			EnvChildID+"="+entry.ChildID,
			EnvInstanceID+"="+entry.InstanceID)
	}

	cmd.Stdout = pm.stdout
	cmd.Stderr = pm.stderr
	return cmd
}

// watch blocks until the child exits and queues it for WaitAny
func (pm *ProcessManager) watch(p *process) {
	if err := waitExited(p.pid); err != nil {
		// Cannot observe without reaping on this platform, reap here.
		_ = p.cmd.Wait()
		status := exitStatus(p.cmd.ProcessState)
		p.status = &status
	}

	pm.mu.Lock()
	pm.exited = append(pm.exited, p)
	pm.mu.Unlock()

	select {
	case pm.notifyCh <- struct{}{}:
	default:
	}
}

// nextExit reaps and returns the oldest queued exit, if any
func (pm *ProcessManager) nextExit() (WaitEvent, bool) {
	pm.mu.Lock()
	if len(pm.exited) == 0 {
		pm.mu.Unlock()
		return WaitEvent{}, false
	}
	p := pm.exited[0]
	pm.exited[0] = nil
	pm.exited = pm.exited[1:]
	pm.mu.Unlock()

	var status ExitStatus
	if p.status != nil {
		status = *p.status
	} else {
		_ = p.cmd.Wait()
		status = exitStatus(p.cmd.ProcessState)
	}

	pm.mu.Lock()
	delete(pm.procs, p.pid)
	pm.mu.Unlock()

	pm.log.Debug("reaped child",
		"child_id", p.entry.ChildID,
		"pid", p.pid,
		"status", status.String(),
		"uptime", time.Since(p.startedAt))

	return WaitEvent{Kind: Exited, PID: p.pid, Status: status}, true
}

// WaitAny blocks until a child exits, the deadline passes, an interrupt
// arrives, ctx is cancelled or Wake is called. A zero deadline waits without
// bound. Exits that already happened are always reported first.
func (pm *ProcessManager) WaitAny(ctx context.Context, deadline time.Time) (WaitEvent, error) {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if ev, ok := pm.nextExit(); ok {
			return ev, nil
		}

		pm.mu.Lock()
		closed, tracked := pm.closed, len(pm.procs)
		pm.mu.Unlock()
		if closed {
			return WaitEvent{}, ErrClosed
		}
		if tracked == 0 {
			return WaitEvent{}, ErrNoChildren
		}

		select {
		case <-pm.notifyCh:
			continue
		case <-pm.wakeCh:
			return WaitEvent{Kind: Woken}, nil
		case sig := <-pm.sigCh:
			pm.log.Info("interrupt signal received", "signal", sig.String())
			return WaitEvent{Kind: Interrupted}, nil
		case <-ctx.Done():
			return WaitEvent{Kind: Interrupted}, nil
		case <-timeout:
			if ev, ok := pm.nextExit(); ok {
				return ev, nil
			}
			return WaitEvent{Kind: TimedOut}, nil
		}
	}
}

// Signal sends a termination request to the child's process group
func (pm *ProcessManager) Signal(pid ProcessID, kind SignalKind) error {
	pm.mu.Lock()
	_, ok := pm.procs[pid]
	pm.mu.Unlock()
	if !ok {
		return fmt.Errorf("signal %s to %d: %w", kind, pid, ErrUnknownProcess)
	}

	sig := unix.SIGTERM
	if kind == Forceful {
		sig = unix.SIGKILL
	}

	err := unix.Kill(-int(pid), sig)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(int(pid), sig)
	}
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s to %d: %w", kind, pid, err)
	}
	return nil
}

// Wake makes a pending or the next WaitAny return a Woken event. Calls
// coalesce until the event is consumed.
func (pm *ProcessManager) Wake() {
	select {
	case pm.wakeCh <- struct{}{}:
	default:
	}
}

// Len returns the number of tracked children, including unreported exits
func (pm *ProcessManager) Len() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}

// Close stops interrupt observation. Running children are left alone.
func (pm *ProcessManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return nil
	}
	pm.closed = true
	if len(pm.signals) > 0 {
		signal.Stop(pm.sigCh)
	}
	return nil
}

// exitStatus converts a finished process state
func exitStatus(state *os.ProcessState) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signal: ws.Signal()}
	}
	return ExitStatus{Code: state.ExitCode()}
}

//go:build unix

package procmgr

import (
	"io"
	"log/slog"
	"os"
)

// Option configures the ProcessManager
type Option func(*ProcessManager)

// WithExecutable sets the binary and arguments used to re-execute children
// whose worker is not an executable
func WithExecutable(path string, args ...string) Option {
	return func(pm *ProcessManager) {
		pm.executable = path
		pm.args = args
	}
}

// WithEnv adds KEY=VALUE entries to every re-executed child
func WithEnv(env ...string) Option {
	return func(pm *ProcessManager) {
		pm.env = append(pm.env, env...)
	}
}

// WithOutput sets where child stdout and stderr go
func WithOutput(stdout, stderr io.Writer) Option {
	return func(pm *ProcessManager) {
		pm.stdout = stdout
		pm.stderr = stderr
	}
}

// WithInterruptSignals sets the signals reported as Interrupted. Passing no
// signals disables interrupt observation.
func WithInterruptSignals(sigs ...os.Signal) Option {
	return func(pm *ProcessManager) {
		pm.signals = sigs
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(pm *ProcessManager) {
		pm.log = logger
	}
}

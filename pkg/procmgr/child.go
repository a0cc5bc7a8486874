//go:build unix

package procmgr

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jrepp/prism-supervisor/pkg/worker"
)

const (
	// EnvChildID names the child spec a re-executed process must run
	EnvChildID = "PRISM_SUPERVISOR_CHILD"
	// EnvInstanceID carries the launch instance identity
	EnvInstanceID = "PRISM_SUPERVISOR_INSTANCE"
)

// Child exit codes
const (
	ExitOK          = 0
	ExitWorkerError = 1
	ExitUnknownSpec = 2
)

// LookupFunc resolves a child ID to its worker inside a re-executed child
type LookupFunc func(childID string) (worker.Worker, bool)

// IsChild reports whether this process was launched as a supervised child
func IsChild() bool {
	_, ok := os.LookupEnv(EnvChildID)
	return ok
}

// ChildMain runs the requested worker and exits when this process is a
// re-executed child. It returns immediately otherwise. Hosts call it early in
// main, after the workers it needs to look up are known.
func ChildMain(lookup LookupFunc) {
	id, ok := os.LookupEnv(EnvChildID)
	if !ok {
		return
	}
	os.Exit(RunChild(context.Background(), id, lookup))
}

// RunChild runs the worker registered as childID and returns the process exit
// code. SIGTERM cancels the context passed to the worker.
func RunChild(ctx context.Context, childID string, lookup LookupFunc) int {
	log := slog.Default().With(
		"component", "child",
		"child_id", childID,
		"instance", os.Getenv(EnvInstanceID))

	w, ok := lookup(childID)
	if !ok || w == nil {
		log.Error("no worker registered for child")
		return ExitUnknownSpec
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := worker.Run(ctx, w); err != nil {
		log.Error("worker failed", "error", err)
		return ExitWorkerError
	}
	return ExitOK
}

// Command example runs a one_for_one tree with a single worker that crashes
// every few seconds and is restarted in a fresh process each time.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
	"github.com/jrepp/prism-supervisor/pkg/supervisor"
	"github.com/jrepp/prism-supervisor/pkg/worker"
)

func main() {
	flaky := worker.Func(func(ctx context.Context) error {
		slog.Info("worker started", "pid", os.Getpid())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(3 * time.Second):
			return errors.New("simulated failure")
		}
	})

	specs := []supervisor.ChildSpec{
		supervisor.NewChildSpec("flaky", flaky, supervisor.Permanent, supervisor.Timeout(time.Second), supervisor.RoleWorker),
	}

	// Must run before anything else so re-executed children only run their worker
	procmgr.ChildMain(supervisor.Lookup(specs))

	// One restart per 5s. Crashing every 3s exceeds that on the second crash.
	flags, err := supervisor.NewFlags(supervisor.OneForOne, 1, 5*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	sup, err := supervisor.New(flags, specs, supervisor.WithName("example"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil && !supervisor.IsErrorCode(err, supervisor.ErrorCodeInterrupted) {
		slog.Error("supervisor gave up", "error", err)
		os.Exit(1)
	}
}

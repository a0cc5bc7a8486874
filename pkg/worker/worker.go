// Package worker defines the unit of work a supervised child process runs.
//
// A Worker never executes inside the supervisor. The process launcher starts
// an independent OS process and that process calls Init and then Finalize.
// The supervisor only ever observes the resulting exit status.
package worker

import (
	"context"
	"fmt"
)

// Worker is the capability every supervised child exposes.
type Worker interface {
	// Init runs the worker. Returning an error makes the child exit non-zero.
	Init(ctx context.Context) error

	// Finalize runs after Init returns, whatever its outcome.
	Finalize(ctx context.Context) error
}

// Executable is implemented by workers that are a standalone program. The
// launcher execs these directly instead of re-executing the host binary.
type Executable interface {
	Worker
	CommandLine() (path string, args []string, env []string, dir string)
}

// FuncWorker adapts plain functions to the Worker interface.
type FuncWorker struct {
	init     func(ctx context.Context) error
	finalize func(ctx context.Context) error
}

// Func wraps init as a Worker with a no-op finalizer.
func Func(init func(ctx context.Context) error) *FuncWorker {
	return &FuncWorker{init: init}
}

// FuncWithFinalize wraps init and finalize as a Worker.
func FuncWithFinalize(init, finalize func(ctx context.Context) error) *FuncWorker {
	return &FuncWorker{init: init, finalize: finalize}
}

// Init implements Worker.
func (w *FuncWorker) Init(ctx context.Context) error {
	if w.init == nil {
		return fmt.Errorf("worker has no init function")
	}
	return w.init(ctx)
}

// Finalize implements Worker.
func (w *FuncWorker) Finalize(ctx context.Context) error {
	if w.finalize == nil {
		return nil
	}
	return w.finalize(ctx)
}

// Run executes Init then Finalize and returns the first error. Finalize is
// called even when Init fails.
func Run(ctx context.Context, w Worker) error {
	initErr := w.Init(ctx)
	finErr := w.Finalize(context.WithoutCancel(ctx))
	if initErr != nil {
		return fmt.Errorf("init: %w", initErr)
	}
	if finErr != nil {
		return fmt.Errorf("finalize: %w", finErr)
	}
	return nil
}

var _ Worker = (*FuncWorker)(nil)

package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
	"github.com/jrepp/prism-supervisor/pkg/supervisor"
)

// Pool is the part of a running supervisor Reconcile drives
type Pool interface {
	Flags() supervisor.Flags
	AddChild(ctx context.Context, spec supervisor.ChildSpec) (procmgr.ProcessID, error)
	TerminateChild(ctx context.Context, id string) error
	DeleteChild(ctx context.Context, id string) error
}

// ReconcileResult describes what Reconcile changed
type ReconcileResult struct {
	Added   []string
	Removed []string
	Changed []string

	// RestartRequired is set when the difference cannot be applied to a
	// running tree. Nothing was changed in that case.
	RestartRequired bool
	Reason          string
}

// Reconcile applies the difference between prev and next to a running pool.
//
// Only simple_one_for_one trees are reconciled in place: new child ids are
// added, removed ids are terminated and deleted, and children whose
// declaration changed are replaced. Any change to the flags, or to the
// children of a positional strategy, reports RestartRequired instead.
//
// Every child of next is built and checked against the pool shape before the
// pool is touched, so a rejected edit leaves the pool as it was. Removing a
// child that is already gone and adding one that is already present count as
// applied, which lets a partially applied edit be retried.
func Reconcile(ctx context.Context, pool Pool, prev, next *Manifest, builtins Builtins) (ReconcileResult, error) {
	var result ReconcileResult

	nextFlags, err := next.Flags()
	if err != nil {
		return result, err
	}
	if nextFlags != pool.Flags() {
		result.RestartRequired = true
		result.Reason = fmt.Sprintf("supervisor flags changed to %s", nextFlags)
		return result, nil
	}

	prevByID := indexChildren(prev.Children)
	nextByID := indexChildren(next.Children)

	for _, c := range prev.Children {
		if _, ok := nextByID[c.ID]; !ok {
			result.Removed = append(result.Removed, c.ID)
		}
	}
	unchanged := 0
	for _, c := range next.Children {
		old, ok := prevByID[c.ID]
		switch {
		case !ok:
			result.Added = append(result.Added, c.ID)
		case !reflect.DeepEqual(old, c):
			result.Changed = append(result.Changed, c.ID)
		default:
			unchanged++
		}
	}

	positional := nextFlags.Strategy() != supervisor.SimpleOneForOne
	reordered := positional && !sameOrder(prev.Children, next.Children)
	if len(result.Added)+len(result.Removed)+len(result.Changed) == 0 && !reordered {
		return result, nil
	}

	if positional {
		result.RestartRequired = true
		result.Reason = fmt.Sprintf("%s children are positional", nextFlags.Strategy())
		return result, nil
	}

	specs, err := next.ChildSpecs(builtins)
	if err != nil {
		return result, err
	}
	if err := supervisor.Validate(nextFlags, specs); err != nil {
		return result, err
	}
	if len(prev.Children) > 0 && len(specs) > 0 {
		current, err := prev.ChildSpec(prev.Children[0], builtins)
		if err != nil {
			return result, err
		}
		if err := supervisor.SameShape(current, specs[0]); err != nil {
			result.RestartRequired = true
			result.Reason = fmt.Sprintf("pool children changed shape: %v", err)
			return result, nil
		}
	}
	// Replacing every child would empty the pool, which ends the tree
	if len(result.Changed) > 0 && unchanged+len(result.Added) == 0 {
		result.RestartRequired = true
		result.Reason = "every pool child changes"
		return result, nil
	}

	specByID := make(map[string]supervisor.ChildSpec, len(specs))
	for _, spec := range specs {
		specByID[spec.ID()] = spec
	}
	log := slog.Default().With("component", "reconciler")

	for _, id := range result.Added {
		if err := add(ctx, pool, specByID[id], log); err != nil {
			return result, err
		}
	}
	for _, id := range result.Removed {
		if err := remove(ctx, pool, id, log); err != nil {
			return result, err
		}
	}
	for _, id := range result.Changed {
		if err := remove(ctx, pool, id, log); err != nil {
			return result, err
		}
		if err := add(ctx, pool, specByID[id], log); err != nil {
			return result, err
		}
	}

	return result, nil
}

func add(ctx context.Context, pool Pool, spec supervisor.ChildSpec, log *slog.Logger) error {
	pid, err := pool.AddChild(ctx, spec)
	switch {
	case supervisor.IsErrorCode(err, supervisor.ErrorCodeDuplicateChildID):
		log.Debug("child already present", "child_id", spec.ID())
		return nil
	case err != nil:
		return fmt.Errorf("add %q: %w", spec.ID(), err)
	}
	log.Info("child added", "child_id", spec.ID(), "pid", pid)
	return nil
}

func remove(ctx context.Context, pool Pool, id string, log *slog.Logger) error {
	err := pool.TerminateChild(ctx, id)
	if err == nil {
		err = pool.DeleteChild(ctx, id)
	}
	switch {
	case supervisor.IsErrorCode(err, supervisor.ErrorCodeChildNotFound):
		log.Debug("child already removed", "child_id", id)
		return nil
	case err != nil:
		return fmt.Errorf("remove %q: %w", id, err)
	}
	log.Info("child removed", "child_id", id)
	return nil
}

func indexChildren(children []ChildConfig) map[string]ChildConfig {
	out := make(map[string]ChildConfig, len(children))
	for _, c := range children {
		out[c.ID] = c
	}
	return out
}

func sameOrder(a, b []ChildConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

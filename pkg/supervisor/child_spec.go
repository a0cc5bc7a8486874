package supervisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
	"github.com/jrepp/prism-supervisor/pkg/worker"
)

// Lifetime decides whether an exit warrants a restart
type Lifetime int

const (
	// Permanent children are always restarted
	Permanent Lifetime = iota
	// Temporary children are never restarted
	Temporary
	// Transient children are restarted only after an abnormal exit
	Transient
)

// String returns the string representation of a Lifetime
func (l Lifetime) String() string {
	switch l {
	case Permanent:
		return "permanent"
	case Temporary:
		return "temporary"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// ParseLifetime parses a lifetime name
func ParseLifetime(s string) (Lifetime, error) {
	switch strings.ToLower(s) {
	case "permanent":
		return Permanent, nil
	case "temporary":
		return Temporary, nil
	case "transient":
		return Transient, nil
	default:
		return 0, ErrInvalidConfiguration("restart", s, "expected permanent, temporary or transient")
	}
}

// RestartRequired reports whether an exit of the given class must be restarted
func (l Lifetime) RestartRequired(class procmgr.ExitClass) bool {
	switch l {
	case Permanent:
		return true
	case Transient:
		return class == procmgr.Abnormal
	default:
		return false
	}
}

// ShutdownKind is the shape of a ShutdownPolicy
type ShutdownKind int

const (
	// ShutdownBrutalKill sends a forceful signal immediately
	ShutdownBrutalKill ShutdownKind = iota
	// ShutdownInfinity sends a graceful signal and waits without bound
	ShutdownInfinity
	// ShutdownTimeout sends a graceful signal and kills after a timeout
	ShutdownTimeout
)

// ShutdownPolicy governs how much grace a terminating child gets
type ShutdownPolicy struct {
	Kind    ShutdownKind
	Timeout time.Duration
}

// BrutalKill terminates the child without grace
var BrutalKill = ShutdownPolicy{Kind: ShutdownBrutalKill}

// Infinity waits for the child however long it takes
var Infinity = ShutdownPolicy{Kind: ShutdownInfinity}

// Timeout gives the child d to exit before it is killed
func Timeout(d time.Duration) ShutdownPolicy {
	return ShutdownPolicy{Kind: ShutdownTimeout, Timeout: d}
}

// String returns brutal_kill, infinity or the timeout duration
func (p ShutdownPolicy) String() string {
	switch p.Kind {
	case ShutdownBrutalKill:
		return "brutal_kill"
	case ShutdownInfinity:
		return "infinity"
	case ShutdownTimeout:
		return p.Timeout.String()
	default:
		return "unknown"
	}
}

// ParseShutdownPolicy parses brutal_kill, infinity or a Go duration
func ParseShutdownPolicy(s string) (ShutdownPolicy, error) {
	switch strings.ToLower(s) {
	case "brutal_kill", "brutal-kill", "kill":
		return BrutalKill, nil
	case "infinity":
		return Infinity, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return ShutdownPolicy{}, ErrInvalidConfiguration("shutdown", s, "expected brutal_kill, infinity or a duration").
			WithCause(err)
	}
	if d <= 0 {
		return ShutdownPolicy{}, ErrInvalidConfiguration("shutdown", s, "timeout must be positive")
	}
	return Timeout(d), nil
}

// Role tags a child as a plain worker or a nested supervisor
type Role int

const (
	// RoleWorker is a leaf child
	RoleWorker Role = iota
	// RoleSupervisor is a child that supervises its own tree
	RoleSupervisor
)

// String returns the string representation of a Role
func (r Role) String() string {
	switch r {
	case RoleWorker:
		return "worker"
	case RoleSupervisor:
		return "supervisor"
	default:
		return "unknown"
	}
}

// ParseRole parses a role name
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "worker":
		return RoleWorker, nil
	case "supervisor":
		return RoleSupervisor, nil
	default:
		return 0, ErrInvalidConfiguration("role", s, "expected worker or supervisor")
	}
}

// ChildSpec describes one supervised unit. It is immutable after construction.
type ChildSpec struct {
	id       string
	worker   worker.Worker
	lifetime Lifetime
	shutdown ShutdownPolicy
	role     Role
}

// NewChildSpec builds a child spec. Validation happens when the supervisor
// starts.
func NewChildSpec(id string, w worker.Worker, lifetime Lifetime, shutdown ShutdownPolicy, role Role) ChildSpec {
	return ChildSpec{id: id, worker: w, lifetime: lifetime, shutdown: shutdown, role: role}
}

// ID returns the child id
func (c ChildSpec) ID() string { return c.id }

// Worker returns the worker run inside the child process
func (c ChildSpec) Worker() worker.Worker { return c.worker }

// Lifetime returns the restart lifetime policy
func (c ChildSpec) Lifetime() Lifetime { return c.lifetime }

// Shutdown returns the shutdown policy
func (c ChildSpec) Shutdown() ShutdownPolicy { return c.shutdown }

// Role returns the process role
func (c ChildSpec) Role() Role { return c.role }

func (c ChildSpec) String() string {
	return fmt.Sprintf("%s(%s, %s, shutdown=%s)", c.id, c.role, c.lifetime, c.shutdown)
}

// validate checks a single spec
func (c ChildSpec) validate() error {
	if c.id == "" {
		return ErrInvalidConfiguration("child id", c.id, "must not be empty")
	}
	if c.worker == nil {
		return ErrInvalidConfiguration("worker", c.id, "child has no worker")
	}
	if c.shutdown.Kind == ShutdownTimeout && c.shutdown.Timeout <= 0 {
		return ErrInvalidConfiguration("shutdown", c.shutdown.Timeout.String(), "timeout must be positive").
			WithContext("child_id", c.id)
	}
	return nil
}

// validateSpecs checks every spec and id uniqueness
func validateSpecs(specs []ChildSpec) error {
	seen := make(map[string]int, len(specs))
	for i, spec := range specs {
		if err := spec.validate(); err != nil {
			return err
		}
		if first, dup := seen[spec.id]; dup {
			return ErrDuplicateChildID(spec.id, first, i)
		}
		seen[spec.id] = i
	}
	return nil
}

// Lookup returns a procmgr.LookupFunc resolving workers by child id. Hosts
// pass it to procmgr.ChildMain.
func Lookup(specs []ChildSpec) func(string) (worker.Worker, bool) {
	byID := make(map[string]worker.Worker, len(specs))
	for _, spec := range specs {
		byID[spec.id] = spec.worker
	}
	return func(id string) (worker.Worker, bool) {
		w, ok := byID[id]
		return w, ok
	}
}

// Package manifest loads supervision trees declared in YAML.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jrepp/prism-supervisor/pkg/supervisor"
	"github.com/jrepp/prism-supervisor/pkg/worker"
)

const (
	defaultIntensity = 1
	defaultPeriod    = 5 * time.Second
	defaultRestart   = "permanent"
	defaultShutdown  = "5s"
	defaultRole      = "worker"
)

// Manifest declares one supervision tree
type Manifest struct {
	// Supervisor flags
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Children in declaration order
	Children []ChildConfig `yaml:"children"`

	// Internal: Absolute path to manifest file (populated during load)
	manifestPath string `yaml:"-"`
}

// SupervisorConfig holds the supervisor flags
type SupervisorConfig struct {
	// Name used in logs, metrics and the history journal
	Name string `yaml:"name"`

	// Strategy is one_for_one, one_for_all, rest_for_one or simple_one_for_one
	Strategy string `yaml:"strategy"`

	// Intensity is the number of restarts tolerated within Period.
	// Defaults to 1 when omitted.
	Intensity *int `yaml:"intensity"`

	// Period is a Go duration. Defaults to 5s.
	Period string `yaml:"period"`
}

// ChildConfig declares one child. Exactly one of Command and Builtin is set.
type ChildConfig struct {
	ID string `yaml:"id"`

	// Command is an argv executed directly by the launcher
	Command []string `yaml:"command"`

	// Builtin names a worker compiled into the host program
	Builtin string `yaml:"builtin"`

	// Args are passed to the builtin constructor
	Args map[string]string `yaml:"args"`

	// Environment variables added to the supervisor's own for Command children
	Env map[string]string `yaml:"env"`

	// Working directory for Command children, relative to the manifest
	Dir string `yaml:"dir"`

	// Restart is permanent, temporary or transient
	Restart string `yaml:"restart"`

	// Shutdown is brutal_kill, infinity or a Go duration
	Shutdown string `yaml:"shutdown"`

	// Role is worker or supervisor
	Role string `yaml:"role"`
}

// BuiltinFunc builds a worker from a child's args
type BuiltinFunc func(args map[string]string) (worker.Worker, error)

// Builtins maps builtin names to constructors
type Builtins map[string]BuiltinFunc

// Load loads a manifest from a YAML file
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	m.manifestPath = absPath
	return m, nil
}

// Parse decodes and validates a manifest
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, supervisor.NewError(supervisor.ErrorCodeInvalidConfiguration, "manifest is not valid YAML").
			WithCause(err)
	}
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Supervisor.Name == "" {
		m.Supervisor.Name = "supervisor"
	}
	if m.Supervisor.Strategy == "" {
		m.Supervisor.Strategy = supervisor.OneForOne.String()
	}
	if m.Supervisor.Intensity == nil {
		intensity := defaultIntensity
		m.Supervisor.Intensity = &intensity
	}
	if m.Supervisor.Period == "" {
		m.Supervisor.Period = defaultPeriod.String()
	}

	for i := range m.Children {
		c := &m.Children[i]
		if c.Restart == "" {
			c.Restart = defaultRestart
		}
		if c.Shutdown == "" {
			c.Shutdown = defaultShutdown
		}
		if c.Role == "" {
			c.Role = defaultRole
		}
	}
}

// Validate checks the manifest and reports every problem found
func (m *Manifest) Validate() error {
	var errs []error

	if _, err := m.Flags(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]int, len(m.Children))
	for i, c := range m.Children {
		if c.ID == "" {
			errs = append(errs, invalid("children[%d]: id is required", i))
		} else if first, dup := seen[c.ID]; dup {
			errs = append(errs, supervisor.ErrDuplicateChildID(c.ID, first, i))
		} else {
			seen[c.ID] = i
		}

		switch {
		case len(c.Command) == 0 && c.Builtin == "":
			errs = append(errs, invalid("child %q: one of command or builtin is required", c.ID))
		case len(c.Command) > 0 && c.Builtin != "":
			errs = append(errs, invalid("child %q: command and builtin are mutually exclusive", c.ID))
		case len(c.Command) > 0 && c.Command[0] == "":
			errs = append(errs, invalid("child %q: command requires a program path", c.ID))
		}

		if _, err := supervisor.ParseLifetime(c.Restart); err != nil {
			errs = append(errs, fmt.Errorf("child %q: %w", c.ID, err))
		}
		if _, err := supervisor.ParseShutdownPolicy(c.Shutdown); err != nil {
			errs = append(errs, fmt.Errorf("child %q: %w", c.ID, err))
		}
		if _, err := supervisor.ParseRole(c.Role); err != nil {
			errs = append(errs, fmt.Errorf("child %q: %w", c.ID, err))
		}
	}

	return errors.Join(errs...)
}

// Flags converts the supervisor section
func (m *Manifest) Flags() (supervisor.Flags, error) {
	strategy, err := supervisor.ParseStrategy(m.Supervisor.Strategy)
	if err != nil {
		return supervisor.Flags{}, err
	}

	intensity := defaultIntensity
	if m.Supervisor.Intensity != nil {
		intensity = *m.Supervisor.Intensity
	}

	period, err := time.ParseDuration(m.Supervisor.Period)
	if err != nil {
		return supervisor.Flags{}, supervisor.ErrInvalidConfiguration("period", m.Supervisor.Period, "expected a duration such as 5s").
			WithCause(err)
	}

	return supervisor.NewFlags(strategy, intensity, period)
}

// ChildSpecs converts every child in declaration order
func (m *Manifest) ChildSpecs(builtins Builtins) ([]supervisor.ChildSpec, error) {
	specs := make([]supervisor.ChildSpec, 0, len(m.Children))
	for _, c := range m.Children {
		spec, err := m.ChildSpec(c, builtins)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ChildSpec converts one child
func (m *Manifest) ChildSpec(c ChildConfig, builtins Builtins) (supervisor.ChildSpec, error) {
	lifetime, err := supervisor.ParseLifetime(c.Restart)
	if err != nil {
		return supervisor.ChildSpec{}, fmt.Errorf("child %q: %w", c.ID, err)
	}
	shutdown, err := supervisor.ParseShutdownPolicy(c.Shutdown)
	if err != nil {
		return supervisor.ChildSpec{}, fmt.Errorf("child %q: %w", c.ID, err)
	}
	role, err := supervisor.ParseRole(c.Role)
	if err != nil {
		return supervisor.ChildSpec{}, fmt.Errorf("child %q: %w", c.ID, err)
	}

	w, err := m.worker(c, builtins)
	if err != nil {
		return supervisor.ChildSpec{}, invalid("child %q: cannot build worker", c.ID).WithCause(err)
	}

	return supervisor.NewChildSpec(c.ID, w, lifetime, shutdown, role), nil
}

func (m *Manifest) worker(c ChildConfig, builtins Builtins) (worker.Worker, error) {
	if c.Builtin != "" {
		build, ok := builtins[c.Builtin]
		if !ok {
			return nil, fmt.Errorf("unknown builtin %q", c.Builtin)
		}
		return build(c.Args)
	}

	cmd, err := worker.NewCommand(c.Command...)
	if err != nil {
		return nil, err
	}
	cmd.Env = c.Env
	cmd.Dir = m.resolve(c.Dir)
	return cmd, nil
}

// invalid reports a manifest problem as an INVALID_CONFIGURATION error
func invalid(format string, args ...interface{}) *supervisor.SupervisorError {
	return supervisor.NewError(supervisor.ErrorCodeInvalidConfiguration, fmt.Sprintf(format, args...))
}

// resolve makes path relative to the manifest directory
func (m *Manifest) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.manifestPath == "" {
		return path
	}
	return filepath.Join(filepath.Dir(m.manifestPath), path)
}

// ManifestPath returns the absolute path to the manifest file
func (m *Manifest) ManifestPath() string {
	return m.manifestPath
}

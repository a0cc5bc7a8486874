package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// Command is a worker backed by an external program.
type Command struct {
	Path string
	Args []string
	Env  map[string]string
	Dir  string
}

// NewCommand builds a Command from an argv slice.
func NewCommand(argv ...string) (*Command, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("command requires a program path")
	}
	return &Command{Path: argv[0], Args: argv[1:]}, nil
}

// CommandLine implements Executable. Env entries are appended to the
// supervisor's own environment in key order.
func (c *Command) CommandLine() (string, []string, []string, string) {
	return c.Path, c.Args, c.environ(), c.Dir
}

// Init runs the program to completion in the current process tree. It is used
// when the launcher cannot exec the command directly.
func (c *Command) Init(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = c.environ()
	cmd.Dir = c.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %s: %w", c.Path, err)
	}
	return nil
}

// Finalize implements Worker.
func (c *Command) Finalize(context.Context) error { return nil }

func (c *Command) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, c.Env[k]))
	}
	return env
}

var _ Executable = (*Command)(nil)

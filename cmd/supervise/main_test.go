package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-supervisor/pkg/history"
	"github.com/jrepp/prism-supervisor/pkg/supervisor"
	"github.com/jrepp/prism-supervisor/pkg/worker"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuiltins_Sleep(t *testing.T) {
	w, err := sleep(map[string]string{"duration": "10ms"})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, worker.Run(context.Background(), w))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestBuiltins_Crash(t *testing.T) {
	w, err := crash(map[string]string{"after": "5ms"})
	require.NoError(t, err)

	err = worker.Run(context.Background(), w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crashed after 5ms")
}

func TestBuiltins_HeartbeatStopsOnCancel(t *testing.T) {
	w, err := heartbeat(map[string]string{"interval": "5ms"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, worker.Run(ctx, w))
}

func TestBuiltins_InvalidArgs(t *testing.T) {
	_, err := heartbeat(map[string]string{"interval": "often"})
	assert.ErrorContains(t, err, `invalid interval "often"`)

	_, err = sleep(map[string]string{"duration": "-1s"})
	assert.ErrorContains(t, err, "must be positive")
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
supervisor: {name: demo, strategy: one_for_all, intensity: 2, period: 10s}
children:
  - {id: beat, builtin: heartbeat, args: {interval: 2s}}
  - {id: job, command: [/bin/sleep, "30"], shutdown: brutal_kill}
`), 0o644))

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Supervisor demo")
	assert.Contains(t, out, "one_for_all")
	assert.Contains(t, out, "at most 2 per 10s")
	assert.Contains(t, out, "builtin:heartbeat")
	assert.Contains(t, out, "/bin/sleep 30")
	assert.Contains(t, out, "manifest is valid")
}

func TestValidateCommand_Notes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
supervisor: {strategy: rest_for_one, intensity: 0}
children:
  - {id: db, builtin: heartbeat}
  - {id: migrate, builtin: sleep, restart: temporary}
`), 0o644))

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "intensity is 0")
	assert.Contains(t, out, `child "migrate" is temporary`)
	assert.NotContains(t, out, `child "db" is temporary`)
	assert.Contains(t, out, "manifest is valid")
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
supervisor: {strategy: simple_one_for_one}
children:
  - {id: a, builtin: heartbeat}
  - {id: b, builtin: heartbeat, restart: temporary}
`), 0o644))

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.True(t, supervisor.IsErrorCode(err, supervisor.ErrorCodeInvalidConfiguration))
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, out, "simple_one_for_one children must match")
}

func TestValidateCommand_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{"duplicate id", "children:\n  - {id: a, builtin: sleep}\n  - {id: a, builtin: sleep}\n", `child id "a" is declared more than once`},
		{"missing command", "children:\n  - {id: a}\n", "one of command or builtin is required"},
		{"malformed yaml", "children: [\n", "not valid YAML"},
		{"unknown builtin", "children:\n  - {id: a, builtin: nope}\n", `unknown builtin "nope"`},
		{"bad builtin args", "children:\n  - {id: a, builtin: sleep, args: {duration: later}}\n", `invalid duration "later"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tree.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.manifest), 0o644))

			out, err := execute(t, "validate", path)
			require.Error(t, err)
			assert.Equal(t, 2, exitCode(err), "got %v", err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestHistoryCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	journal, err := history.Open(context.Background(), path)
	require.NoError(t, err)
	journal.Publish(context.Background(), supervisor.Event{
		Time:       time.Now(),
		Type:       supervisor.EventChildStarted,
		Supervisor: "web",
		ChildID:    "api",
		PID:        4242,
		InstanceID: "c0ffee",
	})
	require.NoError(t, journal.Close())

	out, err := execute(t, "history", "--db", path, "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "child_started")
	assert.Contains(t, out, "api")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "c0ffee")

	_, err = execute(t, "history", "--db", filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(supervisor.ErrRestartIntensityExceeded("api", 1, time.Second)))
	assert.Equal(t, 2, exitCode(supervisor.ErrDuplicateChildID("api", 0, 1)))
}

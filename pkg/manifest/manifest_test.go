package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-supervisor/pkg/supervisor"
	"github.com/jrepp/prism-supervisor/pkg/worker"
)

const sampleManifest = `
supervisor:
  name: web
  strategy: rest_for_one
  intensity: 3
  period: 10s
children:
  - id: db
    command: [/usr/bin/env, sleep, "100"]
    env: {PGPORT: "5432"}
    dir: data
    shutdown: infinity
  - id: beat
    builtin: heartbeat
    args: {interval: 1s}
    restart: transient
    shutdown: brutal_kill
  - id: nested
    builtin: heartbeat
    role: supervisor
    restart: temporary
`

func testBuiltins() Builtins {
	return Builtins{
		"heartbeat": func(args map[string]string) (worker.Worker, error) {
			return worker.Func(func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			}), nil
		},
	}
}

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(writeManifest(t, dir, sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "tree.yaml"), m.ManifestPath())
	assert.Equal(t, "web", m.Supervisor.Name)

	flags, err := m.Flags()
	require.NoError(t, err)
	assert.Equal(t, supervisor.RestForOne, flags.Strategy())
	assert.Equal(t, 3, flags.Intensity())
	assert.Equal(t, 10*time.Second, flags.Period())

	specs, err := m.ChildSpecs(testBuiltins())
	require.NoError(t, err)
	require.Len(t, specs, 3)

	db := specs[0]
	assert.Equal(t, "db", db.ID())
	assert.Equal(t, supervisor.Permanent, db.Lifetime())
	assert.Equal(t, supervisor.Infinity, db.Shutdown())
	assert.Equal(t, supervisor.RoleWorker, db.Role())

	cmd, ok := db.Worker().(*worker.Command)
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/env", cmd.Path)
	assert.Equal(t, []string{"sleep", "100"}, cmd.Args)
	assert.Equal(t, filepath.Join(dir, "data"), cmd.Dir)
	assert.Equal(t, map[string]string{"PGPORT": "5432"}, cmd.Env)

	assert.Equal(t, supervisor.Transient, specs[1].Lifetime())
	assert.Equal(t, supervisor.BrutalKill, specs[1].Shutdown())
	assert.Equal(t, supervisor.RoleSupervisor, specs[2].Role())
	assert.Equal(t, supervisor.Temporary, specs[2].Lifetime())
	assert.Equal(t, supervisor.Timeout(5*time.Second), specs[2].Shutdown())
}

func TestParse_Defaults(t *testing.T) {
	m, err := Parse([]byte("children:\n  - id: a\n    builtin: heartbeat\n"))
	require.NoError(t, err)

	flags, err := m.Flags()
	require.NoError(t, err)
	assert.Equal(t, supervisor.OneForOne, flags.Strategy())
	assert.Equal(t, 1, flags.Intensity())
	assert.Equal(t, 5*time.Second, flags.Period())
	assert.Equal(t, "supervisor", m.Supervisor.Name)

	c := m.Children[0]
	assert.Equal(t, "permanent", c.Restart)
	assert.Equal(t, "5s", c.Shutdown)
	assert.Equal(t, "worker", c.Role)
}

func TestParse_ZeroIntensity(t *testing.T) {
	m, err := Parse([]byte("supervisor: {intensity: 0}\n"))
	require.NoError(t, err)
	flags, err := m.Flags()
	require.NoError(t, err)
	assert.Equal(t, 0, flags.Intensity())
}

// TestValidate_CollectsErrors tests that every problem is reported at once
func TestValidate_CollectsErrors(t *testing.T) {
	_, err := Parse([]byte(`
supervisor: {strategy: all_for_one, period: 0s}
children:
  - id: a
  - id: a
    builtin: x
    command: [/bin/true]
  - id: b
    builtin: x
    restart: sometimes
    shutdown: later
    role: boss
  - builtin: x
`))
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"invalid strategy",
		`child "a": one of command or builtin is required`,
		`child id "a" is declared more than once`,
		"mutually exclusive",
		"invalid restart",
		"invalid shutdown",
		"invalid role",
		"children[3]: id is required",
	} {
		assert.Contains(t, msg, want)
	}
	assert.True(t, supervisor.IsErrorCode(err, supervisor.ErrorCodeInvalidConfiguration))
}

// TestParse_ErrorCodes tests that every rejected manifest carries a
// configuration error code
func TestParse_ErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		code     supervisor.ErrorCode
	}{
		{"duplicate id", "children:\n  - {id: a, builtin: x}\n  - {id: a, builtin: x}\n", supervisor.ErrorCodeDuplicateChildID},
		{"missing command", "children:\n  - {id: a}\n", supervisor.ErrorCodeInvalidConfiguration},
		{"empty program", "children:\n  - {id: a, command: [\"\"]}\n", supervisor.ErrorCodeInvalidConfiguration},
		{"malformed yaml", "children: [\n", supervisor.ErrorCodeInvalidConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.manifest))
			require.Error(t, err)
			assert.Equal(t, tt.code, supervisor.GetErrorCode(err), "got %v", err)
		})
	}
}

func TestValidate_Period(t *testing.T) {
	_, err := Parse([]byte("supervisor: {period: 0s}\n"))
	require.Error(t, err)
	assert.True(t, supervisor.IsErrorCode(err, supervisor.ErrorCodeInvalidConfiguration))

	_, err = Parse([]byte("supervisor: {period: soon}\n"))
	require.Error(t, err)
}

func TestChildSpecs_UnknownBuiltin(t *testing.T) {
	m, err := Parse([]byte("children:\n  - id: a\n    builtin: missing\n"))
	require.NoError(t, err)

	_, err = m.ChildSpecs(testBuiltins())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown builtin "missing"`)
	assert.True(t, supervisor.IsErrorCode(err, supervisor.ErrorCodeInvalidConfiguration))
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

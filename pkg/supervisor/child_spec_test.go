package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

func TestLifetime_RestartRequired(t *testing.T) {
	tests := []struct {
		lifetime Lifetime
		normal   bool
		abnormal bool
	}{
		{Permanent, true, true},
		{Temporary, false, false},
		{Transient, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.lifetime.String(), func(t *testing.T) {
			assert.Equal(t, tt.normal, tt.lifetime.RestartRequired(procmgr.Normal))
			assert.Equal(t, tt.abnormal, tt.lifetime.RestartRequired(procmgr.Abnormal))
		})
	}
}

func TestParseLifetime(t *testing.T) {
	for _, l := range []Lifetime{Permanent, Temporary, Transient} {
		parsed, err := ParseLifetime(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
	_, err := ParseLifetime("forever")
	assert.True(t, IsErrorCode(err, ErrorCodeInvalidConfiguration))
}

func TestParseShutdownPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ShutdownPolicy
		wantErr bool
	}{
		{"brutal_kill", BrutalKill, false},
		{"brutal-kill", BrutalKill, false},
		{"kill", BrutalKill, false},
		{"infinity", Infinity, false},
		{"Infinity", Infinity, false},
		{"5s", Timeout(5 * time.Second), false},
		{"250ms", Timeout(250 * time.Millisecond), false},
		{"0s", ShutdownPolicy{}, true},
		{"-1s", ShutdownPolicy{}, true},
		{"soon", ShutdownPolicy{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseShutdownPolicy(tt.in)
			if tt.wantErr {
				assert.True(t, IsErrorCode(err, ErrorCodeInvalidConfiguration), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShutdownPolicy_String(t *testing.T) {
	assert.Equal(t, "brutal_kill", BrutalKill.String())
	assert.Equal(t, "infinity", Infinity.String())
	assert.Equal(t, "1.5s", Timeout(1500*time.Millisecond).String())
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("Supervisor")
	require.NoError(t, err)
	assert.Equal(t, RoleSupervisor, role)

	role, err = ParseRole("worker")
	require.NoError(t, err)
	assert.Equal(t, RoleWorker, role)

	_, err = ParseRole("manager")
	assert.Error(t, err)
}

func TestValidateSpecs_Duplicate(t *testing.T) {
	err := validateSpecs([]ChildSpec{permanent("a"), permanent("b"), permanent("a")})
	require.Error(t, err)

	var serr *SupervisorError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrorCodeDuplicateChildID, serr.Code)
	assert.Equal(t, 0, serr.Context["first_index"])
	assert.Equal(t, 2, serr.Context["second_index"])
}

func TestLookup(t *testing.T) {
	specs := []ChildSpec{permanent("a"), permanent("b")}
	lookup := Lookup(specs)

	w, ok := lookup("b")
	require.True(t, ok)
	assert.Equal(t, specs[1].Worker(), w)

	_, ok = lookup("missing")
	assert.False(t, ok)
}

func TestChildSpec_String(t *testing.T) {
	spec := NewChildSpec("db", noopWorker(), Transient, Timeout(2*time.Second), RoleSupervisor)
	assert.Equal(t, "db(supervisor, transient, shutdown=2s)", spec.String())
}

package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
	fake "github.com/jrepp/prism-supervisor/pkg/testing/procmgr"
)

// TestPrometheusMetricsCollector_Restarts tests restart and exit counters
func TestPrometheusMetricsCollector_Restarts(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.ChildExited("a", procmgr.Abnormal)
	pmc.ChildExited("a", procmgr.Abnormal)
	pmc.ChildExited("b", procmgr.Normal)
	pmc.ChildRestart("a", OneForOne)
	pmc.ChildRestart("a", OneForOne)

	expected := `
		# HELP test_restarts_total Total number of child restarts
		# TYPE test_restarts_total counter
		test_restarts_total{child_id="a",strategy="one_for_one"} 2
	`
	err := testutil.GatherAndCompare(pmc.Registry(), strings.NewReader(expected), "test_restarts_total")
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(pmc.Registry(), "test_child_exits_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, float64(2), testutil.ToFloat64(pmc.exits.WithLabelValues("a", "abnormal")))
}

// TestPrometheusMetricsCollector_ShutdownDuration tests the policy label
func TestPrometheusMetricsCollector_ShutdownDuration(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("test")

	pmc.ShutdownDuration("a", Timeout(5*time.Second), 100*time.Millisecond)
	pmc.ShutdownDuration("b", BrutalKill, time.Millisecond)

	count, err := testutil.GatherAndCount(pmc.Registry(), "test_shutdown_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	families, err := pmc.Registry().Gather()
	require.NoError(t, err)

	policies := map[string]bool{}
	for _, mf := range families {
		if mf.GetName() != "test_shutdown_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "policy" {
					policies[label.GetValue()] = true
				}
			}
		}
	}
	assert.Equal(t, map[string]bool{"timeout": true, "brutal_kill": true}, policies)
}

// TestPrometheusMetricsCollector_Supervisor tests metrics recorded by a running tree
func TestPrometheusMetricsCollector_Supervisor(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("")
	flags, err := NewFlags(OneForOne, 2, 5*time.Second)
	require.NoError(t, err)

	l := fake.NewLauncher()
	l.Script("w", fake.Crash)
	s, err := New(flags, []ChildSpec{permanent("w")}, WithLauncher(l), WithMetricsCollector(pmc))
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.True(t, IsErrorCode(err, ErrorCodeRestartIntensityExceeded))

	assert.Equal(t, float64(3), testutil.ToFloat64(pmc.started.WithLabelValues("w")))
	assert.Equal(t, float64(2), testutil.ToFloat64(pmc.restarts.WithLabelValues("w", "one_for_one")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pmc.vetoes))
	assert.Equal(t, float64(0), testutil.ToFloat64(pmc.running))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(pmc.stateTransitions.WithLabelValues("ShuttingDown", "Terminated")))

	count, err := testutil.GatherAndCount(pmc.Registry(), "supervisor_state_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
	"github.com/jrepp/prism-supervisor/pkg/supervisor"
)

type staticHealth struct {
	mu sync.Mutex
	h  supervisor.HealthCheck
}

func (s *staticHealth) Health() supervisor.HealthCheck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h
}

func (s *staticHealth) update(fn func(h *supervisor.HealthCheck)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.h)
}

func running(active, specs int) *staticHealth {
	return &staticHealth{h: supervisor.HealthCheck{
		Name:      "tree",
		State:     supervisor.StateRunning,
		StateName: "Running",
		Counts:    supervisor.ChildCounts{Specs: specs, Active: active, Workers: specs},
	}}
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHandler_Health(t *testing.T) {
	source := running(2, 2)
	srv := httptest.NewServer(NewManager(Config{}, source, nil).Handler())
	defer srv.Close()

	status, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "tree", decoded["name"])
	assert.Equal(t, "Running", decoded["state"])

	source.update(func(h *supervisor.HealthCheck) {
		h.State = supervisor.StateShuttingDown
		h.StateName = "ShuttingDown"
	})
	status, _ = get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestHandler_Ready(t *testing.T) {
	source := running(1, 2)
	srv := httptest.NewServer(NewManager(Config{}, source, nil).Handler())
	defer srv.Close()

	status, body := get(t, srv.URL+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), "not_ready")

	source.update(func(h *supervisor.HealthCheck) { h.Counts.Active = 2 })
	status, body = get(t, srv.URL+"/ready")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ready"}`, string(body))

	// No metrics endpoint without a gatherer
	status, _ = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHandler_Metrics(t *testing.T) {
	pmc := supervisor.NewPrometheusMetricsCollector("")
	pmc.ChildStarted("api")
	pmc.ChildExited("api", procmgr.Abnormal)

	srv := httptest.NewServer(NewManager(Config{}, running(1, 1), pmc.Registry()).Handler())
	defer srv.Close()

	status, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `supervisor_children_started_total{child_id="api"} 1`)
	assert.Contains(t, string(body), `supervisor_child_exits_total{child_id="api",class="abnormal"} 1`)
}

func TestManager_Server(t *testing.T) {
	m := NewManager(Config{MetricsAddr: "127.0.0.1:0"}, running(1, 1), nil)
	require.NoError(t, m.Initialize(context.Background()))
	require.NotEmpty(t, m.Addr())

	status, _ := get(t, "http://"+m.Addr()+"/health")
	assert.Equal(t, http.StatusOK, status)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	_, err := http.Get("http://" + m.Addr() + "/health")
	assert.Error(t, err)
}

func TestManager_Tracing(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(Config{ServiceName: "tracing-test", EnableTracing: true, TraceWriter: &buf}, running(1, 1), nil)
	require.NoError(t, m.Initialize(context.Background()))

	_, span := m.Tracer("test").Start(context.Background(), "supervisor.restart")
	span.End()

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "supervisor.restart")
	assert.Contains(t, buf.String(), "tracing-test")
}

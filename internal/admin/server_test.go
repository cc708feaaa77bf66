package admin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goadaptive/internal/console"
	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/pipeline"
	"github.com/dbsmedya/goadaptive/internal/policy"
	"github.com/dbsmedya/goadaptive/internal/record"
	"github.com/dbsmedya/goadaptive/internal/stats"
)

type stubInspector struct{}

func (stubInspector) Status() pipeline.Status {
	return pipeline.Status{RawQueued: 4, RawCapacity: 1000, PayloadCapacity: 1000}
}
func (stubInspector) Summaries() map[string]stats.Summary {
	return map[string]stats.Summary{"age": {OccurrenceCount: 10, DetectedType: record.TypeInteger}}
}
func (s stubInspector) Summary(field string) (stats.Summary, bool) {
	v, ok := s.Summaries()[field]
	return v, ok
}
func (stubInspector) Decisions() policy.Decisions { return policy.Decisions{} }

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func newTestServer(health HealthFunc) (*Server, *pipeline.Metrics) {
	m := pipeline.NewMetrics()
	stopped := func() {}
	return New(m.Registry, console.New(stubInspector{}, stopped), health, logger.NewNop()), m
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(nil)
	code, body := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	s, _ = newTestServer(func(context.Context) error { return errors.New("mysql unreachable") })
	code, body = get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "mysql unreachable")
}

func TestMetrics(t *testing.T) {
	s, m := newTestServer(nil)
	m.RecordsIngested.Add(5)

	code, body := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "goadaptive_records_ingested_total 5")
}

func TestConsoleRoutes(t *testing.T) {
	s, _ := newTestServer(nil)
	h := s.Handler()

	code, body := get(t, h, "/console/queue")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "4 / 1000")

	code, body = get(t, h, "/console/stats/age")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "integer")

	code, _ = get(t, h, "/console/drop_everything")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, h, "/console/exit")
	assert.Equal(t, http.StatusForbidden, code)
}

func TestConsoleDisabled(t *testing.T) {
	s := New(prometheus.NewRegistry(), nil, nil, logger.NewNop())
	code, _ := get(t, s.Handler(), "/console/status")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStartAndShutdown(t *testing.T) {
	s, _ := newTestServer(nil)
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Start("127.0.0.1:0"))

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

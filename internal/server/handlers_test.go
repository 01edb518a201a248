package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"teamflow/internal/engine"
	"teamflow/internal/events"
	"teamflow/internal/metrics"
	"teamflow/internal/store"
	"teamflow/internal/testutil"
	"teamflow/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	srv   *Server
	store *store.MemoryStore
}

func newTestServer(t *testing.T, config Config) *testServer {
	t.Helper()

	agents := testutil.Registry(testutil.Reply("coordinator", "plan approved"), testutil.Reply("worker", "done"))
	st := store.NewMemoryStore()
	bus := events.NewBus(64)
	collector := metrics.NewCollector("test", zap.NewNop())

	eng, err := engine.New(engine.Options{
		Agents: agents,
		Store:  st,
		Sink:   events.Multi{bus, collector},
	})
	require.NoError(t, err)

	srv, err := NewServer(Backend{Engine: eng, Agents: agents, Store: st, Bus: bus, Metrics: collector}, config)
	require.NoError(t, err)
	return &testServer{srv: srv, store: st}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestLoadSpec(t *testing.T) {
	doc, err := LoadSpec()
	require.NoError(t, err)
	assert.NotNil(t, doc.Paths.Find("/executions/{id}/events"))
}

func TestHealthAndStatus(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, HealthStatusHealthy, health.Status)
	assert.Equal(t, HealthCheckPass, health.Checks["store"].Status)

	rec = ts.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, 0, status.ActiveExecutions)
	assert.Equal(t, []string{"coordinator", "worker"}, status.Agents)
}

func TestWorkflowAnalysisEndpoints(t *testing.T) {
	ts := newTestServer(t, Config{})

	t.Run("validate", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/workflows/validate", testutil.LinearWorkflow())
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		report := decode[map[string]any](t, rec)
		assert.Equal(t, true, report["is_valid"])
	})

	t.Run("dependencies", func(t *testing.T) {
		wf := testutil.NewWorkflow("orphan", []workflow.Stage{
			testutil.Stage("A", 1000, "worker"),
			testutil.Stage("B", 1000, "worker"),
			testutil.Stage("C", 1000, "worker"),
		}, []workflow.StageDependency{testutil.Edge("A", "B")}, "worker")

		rec := ts.do(t, http.MethodPost, "/workflows/dependencies", wf)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[DependencyResponse](t, rec)
		assert.True(t, resp.Validation.IsValid)
		require.Len(t, resp.Validation.Warnings, 1)
		assert.Equal(t, [][]string{{"A", "C"}, {"B"}}, resp.Graph.Levels)
	})

	t.Run("plan", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/workflows/plan", testutil.LinearWorkflow())
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		plan := decode[map[string]any](t, rec)
		assert.Equal(t, float64(3), plan["total_stages"])
		assert.Equal(t, float64(3000), plan["estimated_duration"])
	})

	t.Run("plan of a cycle", func(t *testing.T) {
		wf := testutil.LinearWorkflow()
		wf.ExecutionFlow.Dependencies = append(wf.ExecutionFlow.Dependencies, testutil.Edge("C", "A"))

		rec := ts.do(t, http.MethodPost, "/workflows/plan", wf)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("optimize", func(t *testing.T) {
		wf := testutil.LinearWorkflow()
		wf.ExecutionFlow.Dependencies = append(wf.ExecutionFlow.Dependencies, testutil.Edge("A", "C"))

		rec := ts.do(t, http.MethodPost, "/workflows/optimize", wf)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		result := decode[map[string]any](t, rec)
		assert.Len(t, result["removed_edges"], 1)
	})
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t, Config{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"workflow without id", http.MethodPost, "/workflows/validate", map[string]any{"name": "nameless"}},
		{"unknown mode", http.MethodPost, "/executions", map[string]any{"workflow": testutil.LinearWorkflow(), "mode": "turbo"}},
		{"missing workflow", http.MethodPost, "/executions", map[string]any{"prompt": "go"}},
		{"bad limit", http.MethodGet, "/executions?limit=0", nil},
		{"unknown action", http.MethodPost, "/executions/abc/explode", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestExecutionLifecycle(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(t, http.MethodPost, "/executions", map[string]any{
		"workflow":     testutil.LinearWorkflow(),
		"execution_id": "exec-1",
		"wait":         true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decode[ExecutionResponse](t, rec)
	require.NotNil(t, started.Result)
	assert.True(t, started.Result.Success)
	assert.Equal(t, engine.StateCompleted, started.Result.State)
	assert.Len(t, started.Result.Results, 3)

	rec = ts.do(t, http.MethodGet, "/executions/exec-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ExecutionResponse](t, rec)
	require.NotNil(t, got.Result)
	assert.Equal(t, "linear", got.Result.WorkflowID)

	rec = ts.do(t, http.MethodGet, "/executions?workflow_id=linear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ExecutionListResponse](t, rec).Total)

	rec = ts.do(t, http.MethodDelete, "/executions/exec-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/executions", nil)
	assert.Equal(t, 0, decode[ExecutionListResponse](t, rec).Total)

	rec = ts.do(t, http.MethodGet, "/executions?include_archived=true", nil)
	assert.Equal(t, 1, decode[ExecutionListResponse](t, rec).Total)

	// forgotten by the engine, still served from the store
	rec = ts.do(t, http.MethodGet, "/executions/exec-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/executions", map[string]any{
		"workflow":     testutil.LinearWorkflow(),
		"execution_id": "exec-1",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code, "forgotten ids can be reused")
}

func TestExecutionNotFound(t *testing.T) {
	ts := newTestServer(t, Config{})

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/executions/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/executions/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/executions/nope/cancel", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/executions/nope/events", nil).Code)
}

func TestControlEndpoints(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(t, http.MethodPost, "/executions", map[string]any{
		"workflow":             testutil.LinearWorkflow(),
		"execution_id":         "held",
		"require_confirmation": true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	accepted := decode[ExecutionResponse](t, rec)
	require.NotNil(t, accepted.Snapshot)
	assert.Equal(t, "held", accepted.Snapshot.ExecutionID)

	// pausing is only allowed while running
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/executions/held/pause", nil).Code)

	require.Eventually(t, func() bool {
		return ts.do(t, http.MethodPost, "/executions/held/reject", ControlRequest{Reason: "not today"}).Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/executions/held", nil)
		var resp ExecutionResponse
		return json.Unmarshal(rec.Body.Bytes(), &resp) == nil && resp.Result != nil
	}, 2*time.Second, 10*time.Millisecond)

	rec = ts.do(t, http.MethodGet, "/executions/held", nil)
	res := decode[ExecutionResponse](t, rec).Result
	assert.Equal(t, engine.StateCancelled, res.State)
	require.NotNil(t, res.Error)
	assert.Equal(t, engine.CodeExecutionRejected, res.Error.Code)

	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/executions/held/confirm", nil).Code)
}

func TestEventStreamOfFinishedRun(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(t, http.MethodPost, "/executions", map[string]any{
		"workflow":     testutil.LinearWorkflow(),
		"execution_id": "streamed",
		"wait":         true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/executions/streamed/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: execution_complete\n")
	assert.Contains(t, rec.Body.String(), `"execution_id":"streamed"`)
}

func TestAPIKey(t *testing.T) {
	ts := newTestServer(t, Config{APIKey: "secret"})

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/status", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/status", nil, "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/status", nil, "X-API-Key", "secret").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestOpenAPISpecEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(t, http.MethodGet, "/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "operationId: startExecution")
}

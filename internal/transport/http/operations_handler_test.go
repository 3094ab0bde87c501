package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/operations"
	"quantlab/internal/services"
	transport "quantlab/internal/transport/http"
)

// testServer wires a real registry and service behind the handler routes,
// the way cmd/server does, minus the bridge.
type testServer struct {
	registry *operations.Registry
	server   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	registry := operations.NewRegistry()
	service := services.NewOperationsService(registry, nil, nil)
	handler := transport.NewOperationsHandler(service, nil)

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	return &testServer{registry: registry, server: server}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, ts.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestStartOperation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/", map[string]any{
		"type":     "data-load",
		"metadata": map[string]string{"symbol": "AAPL"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[transport.StartOperationResponse](t, resp)
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, operations.TypeDataLoad, body.Type)
	assert.Equal(t, operations.StatusPending, body.Status)

	record, err := ts.registry.Get(body.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", record.Metadata["symbol"])
}

func TestStartOperationValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing type", map[string]any{}},
		{"unknown type", map[string]any{"type": "telepathy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			body := decode[map[string]any](t, resp)
			assert.Equal(t, "INVALID_REQUEST", body["error_code"])
		})
	}
}

func TestGetOperation(t *testing.T) {
	ts := newTestServer(t)
	record, err := ts.registry.Create(operations.TypeBacktest, map[string]string{"strategy": "momentum"})
	require.NoError(t, err)

	resp := ts.do(t, http.MethodGet, "/"+record.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, record.ID, body["id"])
	assert.Equal(t, "backtest", body["type"])
	assert.Equal(t, "pending", body["status"])

	cancellation, ok := body["cancellation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, cancellation["requested"])
}

func TestGetOperationNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/no-such-id", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "OPERATION_NOT_FOUND", body["error_code"])
}

func TestCancelPendingOperation(t *testing.T) {
	ts := newTestServer(t)
	record, err := ts.registry.Create(operations.TypeDataLoad, nil)
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/"+record.ID+"/cancel", map[string]any{"reason": "user aborted"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[transport.CancelOperationResponse](t, resp)
	assert.Equal(t, operations.StatusCancelled, body.Status)

	got, err := ts.registry.Get(record.ID)
	require.NoError(t, err)
	assert.Equal(t, "user aborted", got.Cancellation.Reason())
}

func TestCancelRunningOperationSignalsOnly(t *testing.T) {
	ts := newTestServer(t)
	record, err := ts.registry.Create(operations.TypeTraining, nil)
	require.NoError(t, err)
	handle, err := ts.registry.MarkStarted(record.ID)
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/"+record.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[transport.CancelOperationResponse](t, resp)
	assert.Equal(t, operations.StatusRunning, body.Status)
	assert.True(t, handle.IsCancellationRequested())
}

func TestCancelTerminalOperationIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	record, err := ts.registry.Create(operations.TypeDataLoad, nil)
	require.NoError(t, err)
	_, err = ts.registry.MarkStarted(record.ID)
	require.NoError(t, err)
	require.NoError(t, ts.registry.Complete(record.ID, nil))

	resp := ts.do(t, http.MethodPost, "/"+record.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[transport.CancelOperationResponse](t, resp)
	assert.Equal(t, operations.StatusCompleted, body.Status)
}

func TestGetResults(t *testing.T) {
	ts := newTestServer(t)
	record, err := ts.registry.Create(operations.TypeBacktest, nil)
	require.NoError(t, err)

	// Not terminal yet
	resp := ts.do(t, http.MethodGet, "/"+record.ID+"/results", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	errBody := decode[map[string]any](t, resp)
	assert.Equal(t, "RESULTS_NOT_READY", errBody["error_code"])

	_, err = ts.registry.MarkStarted(record.ID)
	require.NoError(t, err)
	require.NoError(t, ts.registry.Complete(record.ID, map[string]any{"sharpe": 1.7}))

	resp = ts.do(t, http.MethodGet, "/"+record.ID+"/results", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[transport.ResultsResponse](t, resp)
	assert.Equal(t, record.ID, body.ID)
	assert.Equal(t, operations.StatusCompleted, body.Status)
	assert.Equal(t, map[string]any{"sharpe": 1.7}, body.ResultSummary)
	assert.Empty(t, body.ErrorMessage)
}

func TestGetResultsOfFailedOperation(t *testing.T) {
	ts := newTestServer(t)
	record, err := ts.registry.Create(operations.TypeTraining, nil)
	require.NoError(t, err)
	_, err = ts.registry.MarkStarted(record.ID)
	require.NoError(t, err)
	require.NoError(t, ts.registry.Fail(record.ID, "loss diverged", map[string]any{"epochs": 12.0}))

	resp := ts.do(t, http.MethodGet, "/"+record.ID+"/results", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[transport.ResultsResponse](t, resp)
	assert.Equal(t, operations.StatusFailed, body.Status)
	assert.Equal(t, "loss diverged", body.ErrorMessage)
	assert.Equal(t, map[string]any{"epochs": 12.0}, body.ResultSummary)
}

func TestListOperations(t *testing.T) {
	ts := newTestServer(t)

	ids := make([]string, 5)
	for i := range ids {
		record, err := ts.registry.Create(operations.TypeDataLoad, nil)
		require.NoError(t, err)
		ids[i] = record.ID
	}
	// One of them completes
	_, err := ts.registry.MarkStarted(ids[0])
	require.NoError(t, err)
	require.NoError(t, ts.registry.Complete(ids[0], nil))

	resp := ts.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[transport.ListOperationsResponse](t, resp)
	assert.Equal(t, 5, body.TotalCount)
	require.Len(t, body.Operations, 5)
	// Most recent first
	assert.Equal(t, ids[4], body.Operations[0].ID)

	resp = ts.do(t, http.MethodGet, "/?active=true", nil)
	body = decode[transport.ListOperationsResponse](t, resp)
	assert.Equal(t, 4, body.TotalCount)

	resp = ts.do(t, http.MethodGet, "/?status=completed", nil)
	body = decode[transport.ListOperationsResponse](t, resp)
	require.Equal(t, 1, body.TotalCount)
	assert.Equal(t, ids[0], body.Operations[0].ID)

	resp = ts.do(t, http.MethodGet, "/?limit=2&offset=1", nil)
	body = decode[transport.ListOperationsResponse](t, resp)
	assert.Equal(t, 5, body.TotalCount)
	require.Len(t, body.Operations, 2)
	assert.Equal(t, ids[3], body.Operations[0].ID)
	assert.Equal(t, 2, body.Limit)
	assert.Equal(t, 1, body.Offset)
}

func TestListOperationsBadQuery(t *testing.T) {
	ts := newTestServer(t)

	for _, query := range []string{
		"?type=telepathy",
		"?active=maybe",
		"?limit=many",
		"?offset=-x",
	} {
		t.Run(query, func(t *testing.T) {
			resp := ts.do(t, http.MethodGet, "/"+query, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCleanupOperations(t *testing.T) {
	ts := newTestServer(t)

	record, err := ts.registry.Create(operations.TypeDataLoad, nil)
	require.NoError(t, err)
	_, err = ts.registry.MarkStarted(record.ID)
	require.NoError(t, err)
	require.NoError(t, ts.registry.Complete(record.ID, nil))

	active, err := ts.registry.Create(operations.TypeDataLoad, nil)
	require.NoError(t, err)

	resp := ts.do(t, http.MethodDelete, "/?older_than=0s", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[transport.CleanupResponse](t, resp)
	assert.Equal(t, 1, body.Removed)

	_, err = ts.registry.Get(active.ID)
	assert.NoError(t, err)
}

func TestCleanupParameterValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodDelete, "/", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "MISSING_PARAMETER", body["error_code"])

	for _, raw := range []string{"yesterday", "-5m"} {
		resp := ts.do(t, http.MethodDelete, fmt.Sprintf("/?older_than=%s", raw), nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decode[map[string]any](t, resp)
		assert.Equal(t, "INVALID_PARAMETER", body["error_code"])
	}
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	start := ts.do(t, http.MethodPost, "/", map[string]any{"type": "data-load"})
	require.Equal(t, http.StatusCreated, start.StatusCode)
	created := decode[transport.StartOperationResponse](t, start)

	handle, err := ts.registry.MarkStarted(created.ID)
	require.NoError(t, err)
	for _, pct := range []float64{10, 55, 100} {
		require.NoError(t, handle.ReportProgress(operations.Snapshot{Percentage: pct}))
	}
	require.NoError(t, handle.Complete(map[string]any{"rows": 500}))

	resp := ts.do(t, http.MethodGet, "/"+created.ID, nil)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "completed", body["status"])
	progress, ok := body["progress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 100.0, progress["percentage"])

	results := ts.do(t, http.MethodGet, "/"+created.ID+"/results", nil)
	require.Equal(t, http.StatusOK, results.StatusCode)
	resultsBody := decode[transport.ResultsResponse](t, results)
	assert.Equal(t, map[string]any{"rows": 500.0}, resultsBody.ResultSummary)
}

package http_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/config"
	"quantlab/internal/operations"
	"quantlab/internal/services"
	transport "quantlab/internal/transport/http"
)

func newRouterServer(t *testing.T, rateLimit config.RateLimitConfig) *httptest.Server {
	t.Helper()

	registry := operations.NewRegistry()
	service := services.NewOperationsService(registry, nil, nil)
	handler := transport.NewOperationsHandler(service, nil)

	router := transport.NewRouter(transport.RouterDeps{
		Operations: handler,
		RateLimit:  rateLimit,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestRouterHealthz(t *testing.T) {
	server := newRouterServer(t, config.RateLimitConfig{})

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRouterMountsOperations(t *testing.T) {
	server := newRouterServer(t, config.RateLimitConfig{})

	resp, err := http.Get(server.URL + "/api/operations")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouterRateLimit(t *testing.T) {
	server := newRouterServer(t, config.RateLimitConfig{
		Enabled: true,
		RPS:     1,
		Burst:   2,
	})

	statuses := make(map[int]int)
	for i := 0; i < 10; i++ {
		resp, err := http.Get(server.URL + "/api/operations")
		require.NoError(t, err)
		resp.Body.Close()
		statuses[resp.StatusCode]++
	}

	assert.Greater(t, statuses[http.StatusOK], 0)
	assert.Greater(t, statuses[http.StatusTooManyRequests], 0, "burst exhausted within the loop")

	// Health checks bypass the limiter
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

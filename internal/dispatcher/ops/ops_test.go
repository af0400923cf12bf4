package ops

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honux/lolbuff/internal/dispatcher/registry"
)

func TestHealthEndpoint(t *testing.T) {
	tasks := registry.NewTaskRegistry(time.Minute, nil)
	workers := registry.NewWorkerRegistry()
	s := New(tasks, workers, "secret", nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestWorkerAdminRouteRequiresAuth(t *testing.T) {
	tasks := registry.NewTaskRegistry(time.Minute, nil)
	workers := registry.NewWorkerRegistry()
	s := New(tasks, workers, "secret", nil)

	req := httptest.NewRequest(http.MethodPost, "/ops/worker/0/kill", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsReflectsRegistries(t *testing.T) {
	tasks := registry.NewTaskRegistry(time.Minute, nil)
	workers := registry.NewWorkerRegistry()
	workers.Subscribe(noopWorker{})
	s := New(tasks, workers, "secret", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"workerCount":1`)
}

func TestHealthComponentsReportsDisabledWhenNoClientsAttached(t *testing.T) {
	tasks := registry.NewTaskRegistry(time.Minute, nil)
	workers := registry.NewWorkerRegistry()
	s := New(tasks, workers, "secret", nil).WithComponents(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/components", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mongodb":{"status":"disabled","responseTimeMs":0}`)
	assert.Contains(t, rec.Body.String(), `"redis":{"status":"disabled","responseTimeMs":0}`)
}

type noopWorker struct{}

func (noopWorker) Send(_ []byte) error { return nil }

package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesEngineMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.Engine().Observe("create", "conflict", 15*time.Millisecond)

	body := scrape(t, metrics)
	require.Contains(t, body, `equiprent_rental_operations_total{op="create",outcome="conflict"} 1`)
	require.Contains(t, body, `equiprent_rental_operation_duration_seconds_bucket{op="create"`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	if !strings.Contains(body, `equiprent_http_requests_total{code="418",route="/test"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	require.Contains(t, body, `equiprent_http_request_duration_seconds_bucket{route="/test"`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	require.Nil(t, metrics.Engine())
	metrics.Engine().Observe("delete", "ok", time.Millisecond)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestEngineMetricsOnCustomRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	engine := NewEngineMetrics(registry)
	engine.Observe("update", "ok", time.Millisecond)
	engine.Observe("update", "ok", time.Millisecond)
	engine.Observe("update", "storage", time.Millisecond)

	rr := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	require.Contains(t, body, `equiprent_rental_operations_total{op="update",outcome="ok"} 2`)
	require.Contains(t, body, `equiprent_rental_operations_total{op="update",outcome="storage"} 1`)
}

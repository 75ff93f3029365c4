package proxy_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio/apigateway/circuit"
	"github.com/portfolio/apigateway/faults"
	"github.com/portfolio/apigateway/logging/loggingtest"
	"github.com/portfolio/apigateway/metrics/metricstest"
	"github.com/portfolio/apigateway/pipeline"
	"github.com/portfolio/apigateway/proxy"
)

type gateway struct {
	handler *pipeline.Handler
	metrics *metricstest.MockMetrics
	tracer  *mocktracer.MockTracer
}

func newGateway(t *testing.T, backend string, o proxy.Options) *gateway {
	t.Helper()

	table, err := proxy.NewTable([]proxy.Route{{
		ID:       "orders-service",
		Path:     "/api/orders",
		Backend:  backend,
		Fallback: "orders-service",
	}})
	require.NoError(t, err)

	g := &gateway{metrics: &metricstest.MockMetrics{}, tracer: mocktracer.New()}
	log := loggingtest.New()

	o.Routes = table
	o.Log = log
	o.Metrics = g.metrics
	o.Tracer = g.tracer

	g.handler = pipeline.New(pipeline.Options{
		Router: table,
		Engine: proxy.New(o),
		Log:    log,
	})
	return g
}

func (g *gateway) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestForward(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend-Path", r.URL.Path)
		w.Header().Set("X-Backend-Forwarded-For", r.Header.Get("X-Forwarded-For"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer backend.Close()

	g := newGateway(t, backend.URL+"/v1", proxy.Options{})
	rec := g.get("/api/orders/42")

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "created", rec.Body.String())
	assert.Equal(t, "/v1/api/orders/42", rec.Header().Get("X-Backend-Path"))
	assert.Equal(t, "192.0.2.1", rec.Header().Get("X-Backend-Forwarded-For"))

	_, ok := g.metrics.Measure("proxy.backend.orders-service")
	assert.True(t, ok)

	spans := g.tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "proxy", spans[0].OperationName)
	assert.Equal(t, uint16(http.StatusCreated), spans[0].Tag("http.status_code"))
}

func TestGatewayHeadersWinOverBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Expose-Headers", "X-Backend-Only")
		w.Header().Set("X-Backend-Path", r.URL.Path)
	}))
	defer backend.Close()

	g := newGateway(t, backend.URL, proxy.Options{})
	rec := g.get("/api/orders")

	require.Equal(t, http.StatusOK, rec.Code)
	exposed := rec.Header().Values("Access-Control-Expose-Headers")
	require.Len(t, exposed, 1)
	assert.NotContains(t, exposed[0], "X-Backend-Only")
	assert.Equal(t, "/api/orders", rec.Header().Get("X-Backend-Path"))
}

func TestRouteNotFound(t *testing.T) {
	g := newGateway(t, "http://orders.internal", proxy.Options{})
	rec := g.get("/api/users")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, proxy.CodeRouteNotFound, decode(t, rec)["errorCode"])
}

func TestBackendUnreachable(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	g := newGateway(t, url, proxy.Options{})
	rec := g.get("/api/orders")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, faults.CodeBadGateway, body["errorCode"])
	assert.Equal(t, "/api/orders", body["path"])
	assert.Equal(t, true, g.tracer.FinishedSpans()[0].Tag("error"))
}

func TestBackendTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer backend.Close()

	g := newGateway(t, backend.URL, proxy.Options{Timeout: 20 * time.Millisecond})
	rec := g.get("/api/orders")

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, faults.CodeGatewayTimeout, decode(t, rec)["errorCode"])
}

func TestBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	g := newGateway(t, backend.URL, proxy.Options{
		Breakers: circuit.NewRegistry(circuit.BreakerSettings{
			Type:     circuit.ConsecutiveFailures,
			Failures: 2,
			Timeout:  time.Minute,
		}),
	})

	for range 2 {
		rec := g.get("/api/orders")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	rec := g.get("/api/orders")
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(faults.FallbackHeader))

	body := decode(t, rec)
	assert.Equal(t, faults.CodeServiceUnavailable, body["errorCode"])
	assert.Equal(t, map[string]any{"service": "orders-service"}, body["details"])

	v, ok := g.metrics.Counter("proxy.backend.orders-service.breaker_open")
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)
}

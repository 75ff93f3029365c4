package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusExposesGatewayMetrics(t *testing.T) {
	p := NewPrometheus(Options{})

	p.IncCounter("ratelimit.allows")
	p.IncCounterBy("ratelimit.allows", 2)
	p.UpdateGauge("ratelimit.redis.pool.totalconns", 12)
	p.MeasureSince("ratelimit.evaluate", time.Now().Add(-10*time.Millisecond))

	mux := http.NewServeMux()
	p.RegisterHandler("/metrics", mux)

	rsp := httptest.NewRecorder()
	mux.ServeHTTP(rsp, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rsp.Code)

	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `gateway_events_total{key="ratelimit.allows"} 3`)
	assert.Contains(t, out, `gateway_state{key="ratelimit.redis.pool.totalconns"} 12`)
	assert.True(t, strings.Contains(out, `gateway_requests_duration_seconds_count{key="ratelimit.evaluate"} 1`))
}

func TestPrometheusPrefix(t *testing.T) {
	p := NewPrometheus(Options{Prefix: "edge."})
	p.IncCounter("x")

	rsp := httptest.NewRecorder()
	p.CreateHandler().ServeHTTP(rsp, httptest.NewRequest("GET", "/metrics", nil))

	assert.Contains(t, rsp.Body.String(), `edge_events_total{key="x"} 1`)
}

func TestVoidMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		Void.IncCounter("a")
		Void.IncCounterBy("a", 3)
		Void.UpdateGauge("a", 1)
		Void.MeasureSince("a", time.Now())
		Void.RegisterHandler("/metrics", http.NewServeMux())
	})
}

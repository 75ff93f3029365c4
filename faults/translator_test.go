package faults

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio/apigateway/logging/loggingtest"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func mustDuration(t *testing.T, s string) time.Duration {
	t.Helper()
	d, err := time.ParseDuration(s)
	require.NoError(t, err)
	return d
}

func newTestTranslator() (*Translator, *loggingtest.TestLogger) {
	log := loggingtest.New()
	return NewTranslator(Options{Log: log, Now: func() time.Time { return testNow }}), log
}

func translate(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	tr, _ := newTestTranslator()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/orders", nil)

	require.NoError(t, tr.Translate(rec, r, "req-1", err))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestTranslateQuotaExceeded(t *testing.T) {
	resetAt := testNow.Add(1500 * time.Millisecond)
	rec, body := translate(t, QuotaExceeded(2, 0, resetAt, 1500*time.Millisecond))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1714564801500", rec.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	assert.Equal(t, float64(429), body["status"])
	assert.Equal(t, "Too Many Requests", body["error"])
	assert.Equal(t, CodeRateLimitExceeded, body["errorCode"])
	assert.Equal(t, "/api/orders", body["path"])
	assert.Equal(t, "req-1", body["requestId"])
	assert.Equal(t, "2024-05-01T12:00:00Z", body["timestamp"])
	assert.Equal(t, map[string]any{
		"limit":             float64(2),
		"remaining":         float64(0),
		"retryAfterSeconds": float64(2),
	}, body["details"])
}

func TestTranslateServiceUnavailable(t *testing.T) {
	rec, body := translate(t, ServiceUnavailable("orders-service", errors.New("breaker open")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(FallbackHeader))
	assert.Equal(t, CodeServiceUnavailable, body["errorCode"])
	assert.Contains(t, body["message"], "orders-service")
	assert.Equal(t, map[string]any{"service": "orders-service"}, body["details"])
}

func TestTranslateUnclassified(t *testing.T) {
	rec, body := translate(t, errors.New("nil pointer in secret module"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, body["errorCode"])
	assert.Equal(t, internalMessage, body["message"])
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.NotContains(t, body, "details")
	assert.Empty(t, rec.Header().Get(FallbackHeader))
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestTranslateKinds(t *testing.T) {
	for _, tt := range []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid token", InvalidToken(errors.New("expired")), http.StatusUnauthorized, CodeInvalidToken},
		{"credentials", CredentialsNotFound(), http.StatusUnauthorized, CodeCredentialsNotFound},
		{"access denied", AccessDenied(nil), http.StatusForbidden, CodeAccessDenied},
		{"bad gateway", BadGateway(errors.New("refused")), http.StatusBadGateway, CodeBadGateway},
		{"timeout", GatewayTimeout(context.DeadlineExceeded), http.StatusGatewayTimeout, CodeGatewayTimeout},
		{"generic", New(http.StatusTeapot, "TEAPOT", "short and stout"), http.StatusTeapot, "TEAPOT"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := translate(t, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, float64(tt.status), body["status"])
			assert.Equal(t, tt.code, body["errorCode"])
		})
	}
}

func TestTranslateOmitsEmptyFields(t *testing.T) {
	tr, _ := newTestTranslator()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.URL.Path = ""

	require.NoError(t, tr.Translate(rec, r, "", AccessDenied(nil)))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "requestId")
	assert.NotContains(t, body, "path")
	assert.NotContains(t, body, "details")
}

type committedWriter struct {
	*httptest.ResponseRecorder
}

func (committedWriter) Committed() bool { return true }

func TestTranslateCommitted(t *testing.T) {
	tr, log := newTestTranslator()
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	rec.WriteString("partial")

	err := QuotaExceeded(1, 0, testNow, time.Second)
	got := tr.Translate(committedWriter{rec}, httptest.NewRequest("GET", "/x", nil), "r", err)

	assert.Same(t, err, got)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, log.Count("response_committed"))
}

func TestTranslateClientGone(t *testing.T) {
	tr, _ := newTestTranslator()
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest("GET", "/x", nil).WithContext(ctx)

	err := errors.New("boom")
	assert.Same(t, err, tr.Translate(rec, r, "r", err))
	assert.False(t, rec.Flushed)
	assert.Zero(t, rec.Body.Len())
}

func TestTranslateSerializationFailure(t *testing.T) {
	tr, log := newTestTranslator()
	rec := httptest.NewRecorder()
	f := New(http.StatusConflict, "CONFLICT", "conflict")
	f.Details = map[string]any{"bad": make(chan int)}

	require.NoError(t, tr.Translate(rec, httptest.NewRequest("GET", "/x", nil), "r", f))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, rec.Body.Len())
	assert.Empty(t, rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, log.Count("Failed to serialize"))
}

func TestTranslateNil(t *testing.T) {
	tr, _ := newTestTranslator()
	rec := httptest.NewRecorder()
	assert.NoError(t, tr.Translate(rec, httptest.NewRequest("GET", "/", nil), "r", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestTranslateLogsInternalCause(t *testing.T) {
	tr, log := newTestTranslator()
	rec := httptest.NewRecorder()
	require.NoError(t, tr.Translate(rec, httptest.NewRequest("GET", "/", nil), "r", errors.New("db down")))
	assert.Equal(t, 1, log.Count("error_message=db down"))
	assert.Equal(t, 1, log.Count("event=internal_error"))
}

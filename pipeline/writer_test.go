package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)
	assert.False(t, rw.Committed())

	rw.WriteHeader(http.StatusEarlyHints)
	assert.False(t, rw.Committed())

	rw.Write([]byte("hello"))
	assert.True(t, rw.Committed())
	assert.Equal(t, http.StatusOK, rw.code)
	assert.Equal(t, int64(5), rw.bytes)

	rw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusOK, rw.code, "status must not change after commit")
	assert.Same(t, rec, rw.Unwrap())
}

func TestResponseWriterNotDoubleWrapped(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())
	assert.Same(t, rw, newResponseWriter(rw))
}

func TestResponseWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)
	rw.Flush()
	assert.True(t, rec.Flushed)
	assert.True(t, rw.Committed())
}

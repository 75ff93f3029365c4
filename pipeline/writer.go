package pipeline

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// responseWriter records the status code and size of the response and
// whether it was committed.
type responseWriter struct {
	writer http.ResponseWriter
	code   int
	bytes  int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{writer: w}
}

func (rw *responseWriter) Write(data []byte) (count int, err error) {
	if rw.code == 0 {
		rw.WriteHeader(http.StatusOK)
	}
	count, err = rw.writer.Write(data)
	rw.bytes += int64(count)
	return
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.code != 0 {
		return
	}
	rw.writer.WriteHeader(code)
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		return
	}
	if code == 0 {
		code = http.StatusOK
	}
	rw.code = code
}

func (rw *responseWriter) Header() http.Header {
	return rw.writer.Header()
}

func (rw *responseWriter) Committed() bool {
	return rw.code != 0
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.writer.(http.Flusher); ok {
		if rw.code == 0 {
			rw.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hij, ok := rw.writer.(http.Hijacker)
	if ok {
		return hij.Hijack()
	}
	return nil, nil, fmt.Errorf("could not hijack connection")
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.writer
}

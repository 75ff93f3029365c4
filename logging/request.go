package logging

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	timestampFormat = time.RFC3339Nano

	// UnknownRoute is logged when no route matched the request.
	UnknownRoute = "unknown_route"

	eventCompleted = "request_completed"
	eventFailed    = "request_failed"
)

// RequestEntry is one record of the request log.
type RequestEntry struct {

	// Correlation id of the request.
	RequestID string

	// Trace and span ids of the active trace context, if any.
	TraceID string
	SpanID  string

	// Id of the matched route. Empty means no route matched.
	RouteID string

	Method string
	Path   string

	// The status code sent to the client.
	StatusCode int

	// Time spent in the pipeline.
	Duration time.Duration

	// Client address after proxy header resolution.
	ClientIP string
}

var requestLog atomic.Pointer[logrus.Logger]

func (e *RequestEntry) fields() logrus.Fields {
	routeID := e.RouteID
	if routeID == "" {
		routeID = UnknownRoute
	}

	f := logrus.Fields{
		"request_id":  e.RequestID,
		"route_id":    routeID,
		"method":      e.Method,
		"path":        e.Path,
		"status":      e.StatusCode,
		"duration_ms": e.Duration.Milliseconds(),
		"client_ip":   e.ClientIP,
	}

	if e.TraceID != "" {
		f["trace_id"] = e.TraceID
	}

	if e.SpanID != "" {
		f["span_id"] = e.SpanID
	}

	return f
}

// LogRequest logs a completed request. Nothing is logged when the request
// log was disabled by Init.
func LogRequest(e *RequestEntry) {
	l := requestLog.Load()
	if l == nil || e == nil {
		return
	}

	f := e.fields()
	f["event"] = eventCompleted
	l.WithFields(f).Info("Request completed")
}

// LogRequestFailure logs a request that ended with err. The error message is
// recorded here and never sent to the client.
func LogRequestFailure(e *RequestEntry, err error) {
	l := requestLog.Load()
	if l == nil || e == nil {
		return
	}

	f := e.fields()
	f["event"] = eventFailed
	if err != nil {
		f["error_type"] = fmt.Sprintf("%T", err)
		f["error_message"] = err.Error()
	}

	l.WithFields(f).Error("Request failed")
}

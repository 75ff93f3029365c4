package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/portfolio/apigateway/faults"
)

// StatusClientClosedRequest is reported for requests abandoned by the
// client before a response was sent.
const StatusClientClosedRequest = 499

// Context is the state of one request while it passes the pipeline. It
// is created by the Handler and shared by the filters and the forwarding
// engine of that request only.
type Context struct {
	// Correlation id of the request, set by the identification
	// filter.
	RequestID string

	// Time the gateway started serving the request.
	Start time.Time

	// Trace and span ids of the inbound trace context, if any.
	TraceID string
	SpanID  string

	// Id of the route matched by the router. Empty when no route
	// matched.
	RouteID string

	// Client address, after proxy header resolution.
	ClientIP string

	request  *http.Request
	writer   *responseWriter
	stateBag map[string]any
}

func newContext(w *responseWriter, r *http.Request, start time.Time) *Context {
	return &Context{
		Start:    start,
		request:  r,
		writer:   w,
		stateBag: make(map[string]any),
	}
}

// NewContext returns a context for tests of filters and engines.
func NewContext(w http.ResponseWriter, r *http.Request) *Context {
	return newContext(newResponseWriter(w), r, time.Now())
}

// Request returns the request that is forwarded downstream. Filters may
// change its headers.
func (c *Context) Request() *http.Request { return c.request }

// SetRequest replaces the request, e.g. to attach a derived context.
func (c *Context) SetRequest(r *http.Request) { c.request = r }

func (c *Context) ResponseWriter() http.ResponseWriter { return c.writer }

// StateBag holds values exchanged between the stages of a request.
func (c *Context) StateBag() map[string]any { return c.stateBag }

// Committed reports whether the status line of the response was sent.
func (c *Context) Committed() bool { return c.writer.Committed() }

// StatusCode returns the status code sent to the client, 0 before the
// response was committed.
func (c *Context) StatusCode() int { return c.writer.code }

// Status returns the status of the request as it is logged and counted:
// the status sent to the client, or, when nothing was sent, the status the
// error would have been answered with.
func (c *Context) Status(err error) int {
	if code := c.StatusCode(); code != 0 {
		return code
	}

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, context.Canceled), errors.Is(c.request.Context().Err(), context.Canceled):
		return StatusClientClosedRequest
	default:
		return faults.Classify(err).Status
	}
}

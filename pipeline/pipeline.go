// Package pipeline runs the ordered filters of the gateway for every
// request and hands the request to the forwarding engine.
//
// The order of the stages is fixed when the Handler is created. A stage
// never writes error responses: it returns an error, the remaining
// stages are skipped and the error is translated into one error envelope
// by the faults.Translator. After the response was sent, the Response
// method of every filter implementing ResponseFilter is called in reverse
// order.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/portfolio/apigateway/faults"
	"github.com/portfolio/apigateway/logging"
	"github.com/portfolio/apigateway/metrics"
	"github.com/portfolio/apigateway/net"
	"github.com/portfolio/apigateway/ratelimit"
)

const (
	exposeHeadersHeader = "Access-Control-Expose-Headers"

	responseMetricsPrefix = "gateway.response."
	requestMetricsKey     = "gateway.request"
)

// ErrNoEngine is returned when the handler has no forwarding engine.
var ErrNoEngine = errors.New("no forwarding engine")

// Filter is a stage of the pipeline. Returning an error stops the
// pipeline.
type Filter interface {
	Request(*Context) error
}

// ResponseFilter is implemented by filters that need to see the outcome
// of the request. err is the error that stopped the pipeline, or nil.
type ResponseFilter interface {
	Response(ctx *Context, err error)
}

// Router matches requests to route ids.
type Router interface {
	Match(*http.Request) (routeID string, ok bool)
}

// Engine forwards the request downstream and writes the response.
type Engine interface {
	Forward(*Context) error
}

// Options of the pipeline handler.
type Options struct {
	// Router is consulted before the first filter. Optional.
	Router Router

	// Filters in the order of execution.
	Filters []Filter

	// Engine is the last stage.
	Engine Engine

	// Translator writes the error responses. Required.
	Translator *faults.Translator

	// ClientAddr controls the resolution of the client address.
	ClientAddr net.ClientAddrOptions

	// ExposeHeaders are listed in Access-Control-Expose-Headers of
	// every response. Defaults to the rate limit headers.
	ExposeHeaders []string

	Log     logging.Logger
	Metrics metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Handler is the http.Handler of the gateway.
type Handler struct {
	router        Router
	filters       []Filter
	engine        Engine
	translator    *faults.Translator
	clientAddr    net.ClientAddrOptions
	exposeHeaders string
	log           logging.Logger
	metrics       metrics.Metrics
	now           func() time.Time
}

var _ http.Handler = &Handler{}

func New(o Options) *Handler {
	if o.Log == nil {
		o.Log = logging.New()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Translator == nil {
		o.Translator = faults.NewTranslator(faults.Options{Log: o.Log, Now: o.Now})
	}
	if o.ExposeHeaders == nil {
		o.ExposeHeaders = ratelimit.ExposedHeaders
	}

	return &Handler{
		router:        o.Router,
		filters:       o.Filters,
		engine:        o.Engine,
		translator:    o.Translator,
		clientAddr:    o.ClientAddr,
		exposeHeaders: strings.Join(o.ExposeHeaders, ", "),
		log:           o.Log,
		metrics:       o.Metrics,
		now:           o.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rw := newResponseWriter(w)
	ctx := newContext(rw, r, h.now())

	if addr := net.ClientAddr(r, h.clientAddr); addr.IsValid() {
		ctx.ClientIP = addr.String()
	}

	if h.exposeHeaders != "" {
		rw.Header().Set(exposeHeadersHeader, h.exposeHeaders)
	}

	if h.router != nil {
		if id, ok := h.router.Match(r); ok {
			ctx.RouteID = id
		}
	}

	err := h.run(ctx)
	if err != nil {
		if terr := h.translator.Translate(rw, ctx.Request(), ctx.RequestID, err); terr != nil {
			h.log.Debugf("Error response not sent for %s: %v", ctx.RequestID, terr)
		}
	}

	for i := len(h.filters) - 1; i >= 0; i-- {
		if rf, ok := h.filters[i].(ResponseFilter); ok {
			rf.Response(ctx, err)
		}
	}

	status := ctx.Status(err)
	h.metrics.IncCounter(responseMetricsPrefix + strconv.Itoa(status))
	h.metrics.MeasureSince(requestMetricsKey, ctx.Start)
}

func (h *Handler) run(ctx *Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok && errors.Is(perr, http.ErrAbortHandler) {
				panic(p)
			}
			h.log.Errorf("Pipeline panic for %s: %v", ctx.Request().URL.Path, p)
			err = fmt.Errorf("pipeline panic: %v", p)
		}
	}()

	for _, f := range h.filters {
		if err := f.Request(ctx); err != nil {
			return err
		}
	}

	if h.engine == nil {
		return ErrNoEngine
	}
	return h.engine.Forward(ctx)
}

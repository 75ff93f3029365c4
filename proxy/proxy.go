package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"time"

	ot "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/portfolio/apigateway/circuit"
	"github.com/portfolio/apigateway/faults"
	"github.com/portfolio/apigateway/logging"
	"github.com/portfolio/apigateway/metrics"
	"github.com/portfolio/apigateway/pipeline"
)

const (
	// DefaultTimeout bounds the backend round trip.
	DefaultTimeout = 30 * time.Second

	CodeRouteNotFound = "ROUTE_NOT_FOUND"

	backendMetricsPrefix = "proxy.backend."
	spanName             = "proxy"
)

var errBackendStatus = errors.New("backend responded with server error")

// Options of the forwarder.
type Options struct {
	Routes *Table

	// Timeout of the backend round trip. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Breakers of the routes. Optional.
	Breakers *circuit.Registry

	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper

	Log     logging.Logger
	Metrics metrics.Metrics

	// Tracer defaults to the noop tracer.
	Tracer ot.Tracer
}

// Proxy forwards the requests of matched routes to their backends.
type Proxy struct {
	routes   *Table
	timeout  time.Duration
	breakers *circuit.Registry
	log      logging.Logger
	metrics  metrics.Metrics
	tracer   ot.Tracer
	proxies  map[string]*httputil.ReverseProxy
}

var _ pipeline.Engine = &Proxy{}

type outcomeKey struct{}

// outcome of one round trip, recorded by the reverse proxy hooks.
type outcome struct {
	status int
	err    error

	// owned are the response headers set by the gateway before
	// forwarding. The backend cannot add values to them.
	owned http.Header
}

func New(o Options) *Proxy {
	if o.Routes == nil {
		o.Routes = &Table{}
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}
	if o.Log == nil {
		o.Log = logging.New()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}
	if o.Tracer == nil {
		o.Tracer = &ot.NoopTracer{}
	}

	p := &Proxy{
		routes:   o.Routes,
		timeout:  o.Timeout,
		breakers: o.Breakers,
		log:      o.Log,
		metrics:  o.Metrics,
		tracer:   o.Tracer,
		proxies:  make(map[string]*httputil.ReverseProxy),
	}

	for _, r := range o.Routes.routes {
		p.proxies[r.ID] = p.newReverseProxy(r, o.Transport)
	}

	return p
}

func (p *Proxy) newReverseProxy(r *Route, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(r.backend)
			pr.SetXForwarded()
		},
		Transport: transport,
		ModifyResponse: func(rsp *http.Response) error {
			if o, ok := rsp.Request.Context().Value(outcomeKey{}).(*outcome); ok {
				o.status = rsp.StatusCode
				for k := range o.owned {
					rsp.Header.Del(k)
				}
			}
			return nil
		},
		ErrorHandler: func(_ http.ResponseWriter, req *http.Request, err error) {
			if o, ok := req.Context().Value(outcomeKey{}).(*outcome); ok {
				o.err = err
			}
		},
	}
}

// Forward sends the request to the backend of the matched route and
// copies the response. It returns a fault when no route matched, the
// breaker of the route is open or the backend failed.
func (p *Proxy) Forward(ctx *pipeline.Context) error {
	route, ok := p.routes.Route(ctx.RouteID)
	if !ok {
		return faults.New(http.StatusNotFound, CodeRouteNotFound, "No route matched the request.")
	}

	b := p.breakers.Get(route.ID)
	var done func(bool)
	if b != nil {
		var allowed bool
		done, allowed = b.Allow()
		if !allowed {
			p.metrics.IncCounter(backendMetricsPrefix + route.ID + ".breaker_open")
			return faults.ServiceUnavailable(route.FallbackService(), circuit.ErrOpen)
		}
	}

	o, err := p.roundTrip(ctx, route)
	if done != nil {
		done(err == nil && o.status < http.StatusInternalServerError)
	}

	if err != nil {
		p.log.Errorf("Failed to do backend roundtrip to %s: %v", route.Backend, err)
		return faults.Classify(err)
	}

	return nil
}

func (p *Proxy) roundTrip(ctx *pipeline.Context, route *Route) (*outcome, error) {
	req := ctx.Request()

	span := p.tracer.StartSpan(spanName, ot.ChildOf(spanContext(req.Context())))
	defer span.Finish()
	ext.SpanKindRPCClient.Set(span)
	ext.HTTPMethod.Set(span, req.Method)
	ext.HTTPUrl.Set(span, route.Backend+req.URL.Path)
	span.SetTag("gateway.route_id", route.ID)

	tctx, cancel := context.WithTimeout(req.Context(), p.timeout)
	defer cancel()

	o := &outcome{owned: ctx.ResponseWriter().Header()}
	tctx = context.WithValue(ot.ContextWithSpan(tctx, span), outcomeKey{}, o)

	start := time.Now()
	p.proxies[route.ID].ServeHTTP(ctx.ResponseWriter(), req.WithContext(tctx))
	p.metrics.MeasureSince(backendMetricsPrefix+route.ID, start)

	if o.err != nil {
		ext.Error.Set(span, true)
		span.LogKV("event", "error", "message", o.err.Error())

		// the client went away, nothing is classified
		if req.Context().Err() != nil {
			return o, req.Context().Err()
		}

		// the transport reports our own deadline as cancellation
		if tctx.Err() != nil && errors.Is(o.err, context.Canceled) {
			return o, context.DeadlineExceeded
		}

		return o, o.err
	}

	ext.HTTPStatusCode.Set(span, uint16(o.status))
	if o.status >= http.StatusInternalServerError {
		ext.Error.Set(span, true)
		p.log.Debugf("%v: %s returned %d", errBackendStatus, route.ID, o.status)
	}

	return o, nil
}

func spanContext(ctx context.Context) ot.SpanContext {
	if s := ot.SpanFromContext(ctx); s != nil {
		return s.Context()
	}
	return nil
}

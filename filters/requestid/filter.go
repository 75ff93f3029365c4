package requestid

import (
	"strings"
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/portfolio/apigateway/logging"
	"github.com/portfolio/apigateway/pipeline"
)

const HeaderName = "X-Request-Id"

// Options of the identification filter.
type Options struct {
	// Generator of new ids. Defaults to UUIDs.
	Generator Generator

	// Propagator reads the inbound trace context. Defaults to W3C
	// trace context.
	Propagator propagation.TextMapPropagator

	Log logging.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

type filter struct {
	generator  Generator
	propagator propagation.TextMapPropagator
	log        logging.Logger
	now        func() time.Time
}

var (
	_ pipeline.Filter         = &filter{}
	_ pipeline.ResponseFilter = &filter{}
)

// New returns the identification filter.
func New(o Options) pipeline.Filter {
	if o.Generator == nil {
		o.Generator = NewUUIDGenerator()
	}
	if o.Propagator == nil {
		o.Propagator = propagation.TraceContext{}
	}
	if o.Log == nil {
		o.Log = logging.New()
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	return &filter{
		generator:  o.Generator,
		propagator: o.Propagator,
		log:        o.Log,
		now:        o.Now,
	}
}

func (f *filter) Request(ctx *pipeline.Context) error {
	ctx.Start = f.now()
	r := ctx.Request()

	id := strings.TrimSpace(r.Header.Get(HeaderName))
	if id == "" {
		var err error
		id, err = f.generator.Generate()
		if err != nil {
			f.log.Errorf("Failed to generate request id: %v", err)
			id = NewUUIDGenerator().MustGenerate()
		}
	}

	ctx.RequestID = id
	r.Header.Set(HeaderName, id)
	ctx.ResponseWriter().Header().Set(HeaderName, id)

	tctx := f.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	if sc := trace.SpanContextFromContext(tctx); sc.IsValid() {
		ctx.TraceID = sc.TraceID().String()
		ctx.SpanID = sc.SpanID().String()
		ctx.SetRequest(r.WithContext(tctx))
	}

	return nil
}

func (f *filter) Response(ctx *pipeline.Context, err error) {
	r := ctx.Request()
	status := ctx.Status(err)

	e := &logging.RequestEntry{
		RequestID:  ctx.RequestID,
		TraceID:    ctx.TraceID,
		SpanID:     ctx.SpanID,
		RouteID:    ctx.RouteID,
		Method:     r.Method,
		Path:       r.URL.Path,
		StatusCode: status,
		Duration:   f.now().Sub(ctx.Start),
		ClientIP:   ctx.ClientIP,
	}

	if err != nil {
		logging.LogRequestFailure(e, err)
		return
	}
	logging.LogRequest(e)
}

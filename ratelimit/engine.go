package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/portfolio/apigateway/logging"
	"github.com/portfolio/apigateway/metrics"
)

const (
	DefaultStoreTimeout = 100 * time.Millisecond

	metricsPrefix       = "ratelimit.redis."
	metricsTotal        = metricsPrefix + "total"
	metricsAllows       = metricsPrefix + "allows"
	metricsForbids      = metricsPrefix + "forbids"
	metricsFailOpen     = metricsPrefix + "failopen"
	metricsEvaluateTime = "ratelimit.evaluate"

	evaluateSpanName = "ratelimit_evaluate"
)

// EngineOptions configure the rate limit engine.
type EngineOptions struct {
	// Store is required.
	Store Store

	// StoreTimeout bounds every store round trip. Defaults to
	// DefaultStoreTimeout.
	StoreTimeout time.Duration

	Log     logging.Logger
	Metrics metrics.Metrics
	Tracer  opentracing.Tracer

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine decides whether a request is admitted.
type Engine struct {
	store   Store
	timeout time.Duration
	log     logging.Logger
	metrics metrics.Metrics
	tracer  opentracing.Tracer
	now     func() time.Time
}

func NewEngine(o EngineOptions) *Engine {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.Log == nil {
		o.Log = logging.New()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}
	if o.Tracer == nil {
		o.Tracer = &opentracing.NoopTracer{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	return &Engine{
		store:   o.Store,
		timeout: o.StoreTimeout,
		log:     o.Log,
		metrics: o.Metrics,
		tracer:  o.Tracer,
		now:     o.Now,
	}
}

// Evaluate counts a request for key against the policy. It never fails:
// when the store is unavailable the request is admitted with the full
// quota remaining.
//
// The store round trip is detached from the cancellation of ctx, so a
// client going away cannot interrupt an evaluation that was already
// started.
func (e *Engine) Evaluate(ctx context.Context, key string, p Policy) Result {
	now := e.now()
	defer e.metrics.MeasureSince(metricsEvaluateTime, now)
	e.metrics.IncCounter(metricsTotal)

	span := e.startSpan(ctx, p)
	defer span.Finish()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	member := strconv.FormatInt(now.UnixMilli(), 10) + ":" + uuid.NewString()
	count, ttl, err := e.store.Hit(sctx, KeyPrefix+key, member, p.MaxRequests, p.Window, now)
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("event", "error", "message", err.Error())
		e.metrics.IncCounter(metricsFailOpen)
		e.log.WithFields(map[string]any{
			"event":         "ratelimit_store_error",
			"key":           key,
			"error_message": err.Error(),
		}).Errorf("Failed to evaluate rate limit, allowing request: %v", err)

		return Result{
			Allowed:   true,
			Limit:     p.MaxRequests,
			Remaining: p.MaxRequests,
			ResetAt:   now.Add(p.Window),
		}
	}

	if ttl <= 0 {
		ttl = p.Window
	}

	r := Result{
		Allowed:   count <= p.MaxRequests,
		Limit:     p.MaxRequests,
		Remaining: min(p.MaxRequests, max(0, p.MaxRequests-count)),
		ResetAt:   now.Add(ttl),
	}

	span.SetTag("ratelimit_allowed", r.Allowed)
	if r.Allowed {
		e.metrics.IncCounter(metricsAllows)
	} else {
		e.metrics.IncCounter(metricsForbids)
	}

	return r
}

func (e *Engine) startSpan(ctx context.Context, p Policy) opentracing.Span {
	spanOpts := []opentracing.StartSpanOption{opentracing.Tags{
		string(ext.Component):    "gateway",
		string(ext.DBType):       "redis",
		string(ext.SpanKind):     ext.SpanKindRPCClientEnum,
		"ratelimit_type":         "slidingWindow",
		"ratelimit_max_requests": p.MaxRequests,
		"ratelimit_window_ms":    p.Window.Milliseconds(),
	}}
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		spanOpts = append(spanOpts, opentracing.ChildOf(parent.Context()))
	}
	return e.tracer.StartSpan(evaluateSpanName, spanOpts...)
}

/*
Package ratelimit provides the rate limiting filter of the gateway
pipeline.

The filter runs after the identification filter. Requests without a
matched route pass unchanged. For matched routes the caller identity is
resolved, joined with the route id and evaluated against the policy of
the route. The X-RateLimit-* headers are set on every evaluated response.
Denied requests stop the pipeline with a quota fault, which is turned
into a 429 response with Retry-After by the error translator.

For the rate limiter itself, see package
github.com/portfolio/apigateway/ratelimit.
*/
package ratelimit

import (
	"context"
	"time"

	"github.com/portfolio/apigateway/faults"
	"github.com/portfolio/apigateway/pipeline"
	"github.com/portfolio/apigateway/ratelimit"
)

// ResultKey is used as key in the context state bag
const ResultKey = "#ratelimitresult"

// Evaluator decides on a counting key. It is implemented by
// ratelimit.Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, key string, p ratelimit.Policy) ratelimit.Result
}

// Options of the rate limiting filter.
type Options struct {
	// When false, the filter passes every request.
	Enabled bool

	Evaluator Evaluator
	Policies  *ratelimit.Policies
	Resolver  *ratelimit.KeyResolver

	// Now defaults to time.Now.
	Now func() time.Time
}

type filter struct {
	enabled   bool
	evaluator Evaluator
	policies  *ratelimit.Policies
	resolver  *ratelimit.KeyResolver
	now       func() time.Time
}

var _ pipeline.Filter = &filter{}

func New(o Options) pipeline.Filter {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Policies == nil {
		o.Policies = &ratelimit.Policies{}
	}
	if o.Resolver == nil {
		o.Resolver = &ratelimit.KeyResolver{}
	}

	return &filter{
		enabled:   o.Enabled && o.Evaluator != nil,
		evaluator: o.Evaluator,
		policies:  o.Policies,
		resolver:  o.Resolver,
		now:       o.Now,
	}
}

func (f *filter) Request(ctx *pipeline.Context) error {
	if !f.enabled || ctx.RouteID == "" {
		return nil
	}

	r := ctx.Request()
	key := ratelimit.Key(ctx.RouteID, f.resolver.Resolve(r))
	policy := f.policies.Resolve(ctx.RouteID)

	res := f.evaluator.Evaluate(r.Context(), key, policy)
	ctx.StateBag()[ResultKey] = res

	ratelimit.SetHeaders(ctx.ResponseWriter().Header(), res.Limit, res.Remaining, res.ResetAt)
	if res.Allowed {
		return nil
	}

	return faults.QuotaExceeded(res.Limit, res.Remaining, res.ResetAt, res.RetryAfter(f.now()))
}

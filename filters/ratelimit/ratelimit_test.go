package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio/apigateway/auth"
	"github.com/portfolio/apigateway/faults"
	"github.com/portfolio/apigateway/logging/loggingtest"
	"github.com/portfolio/apigateway/net"
	"github.com/portfolio/apigateway/pipeline"
	"github.com/portfolio/apigateway/ratelimit"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type evaluatorFunc func(key string, p ratelimit.Policy) ratelimit.Result

func (f evaluatorFunc) Evaluate(_ context.Context, key string, p ratelimit.Policy) ratelimit.Result {
	return f(key, p)
}

type brokenStore struct{}

func (brokenStore) Hit(context.Context, string, string, int64, time.Duration, time.Time) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func newTestFilter(t *testing.T, store ratelimit.Store, def ratelimit.Policy, routes map[string]ratelimit.Policy) pipeline.Filter {
	t.Helper()
	policies, err := ratelimit.NewPolicies(def, routes)
	require.NoError(t, err)

	return New(Options{
		Enabled: true,
		Evaluator: ratelimit.NewEngine(ratelimit.EngineOptions{
			Store: store,
			Now:   func() time.Time { return testNow },
			Log:   loggingtest.New(),
		}),
		Policies: policies,
		Resolver: ratelimit.NewKeyResolver(net.ClientAddrOptions{TrustDepth: 1}),
		Now:      func() time.Time { return testNow },
	})
}

func newRequestContext(routeID string) (*pipeline.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	ctx := pipeline.NewContext(rec, r)
	ctx.RouteID = routeID
	return ctx, rec
}

func TestThreeRequestsWithLimitTwo(t *testing.T) {
	f := newTestFilter(t, ratelimit.NewMemoryStore(), ratelimit.Policy{MaxRequests: 2, Window: 60 * time.Second}, nil)

	var results []bool
	var last error
	for range 3 {
		ctx, rec := newRequestContext("orders-service")
		last = f.Request(ctx)
		results = append(results, last == nil)
		assert.Equal(t, "2", rec.Header().Get(ratelimit.LimitHeader))
	}

	assert.Equal(t, []bool{true, true, false}, results)

	var fault *faults.Fault
	require.ErrorAs(t, last, &fault)
	assert.Equal(t, faults.KindQuotaExceeded, fault.Kind)
	assert.Equal(t, int64(2), fault.Quota.Limit)
	assert.Equal(t, int64(0), fault.Quota.Remaining)
	assert.GreaterOrEqual(t, fault.Quota.RetryAfterSeconds(), int64(1))
}

func TestNoRoutePassesWithoutHeaders(t *testing.T) {
	called := false
	f := New(Options{
		Enabled: true,
		Evaluator: evaluatorFunc(func(string, ratelimit.Policy) ratelimit.Result {
			called = true
			return ratelimit.Result{}
		}),
	})

	ctx, rec := newRequestContext("")
	assert.NoError(t, f.Request(ctx))
	assert.False(t, called)
	assert.Empty(t, rec.Header().Get(ratelimit.LimitHeader))
	assert.Empty(t, rec.Header().Get(ratelimit.RemainingHeader))
	assert.Empty(t, rec.Header().Get(ratelimit.ResetHeader))
}

func TestDisabledPasses(t *testing.T) {
	f := New(Options{
		Enabled: false,
		Evaluator: evaluatorFunc(func(string, ratelimit.Policy) ratelimit.Result {
			t.Fatal("evaluator must not be called")
			return ratelimit.Result{}
		}),
	})

	ctx, rec := newRequestContext("orders-service")
	assert.NoError(t, f.Request(ctx))
	assert.Empty(t, rec.Header().Get(ratelimit.LimitHeader))
}

func TestStoreFailureSetsFailOpenHeaders(t *testing.T) {
	f := newTestFilter(t, brokenStore{}, ratelimit.Policy{MaxRequests: 5, Window: 30 * time.Second}, nil)

	ctx, rec := newRequestContext("orders-service")
	assert.NoError(t, f.Request(ctx))
	assert.Equal(t, "5", rec.Header().Get(ratelimit.LimitHeader))
	assert.Equal(t, "5", rec.Header().Get(ratelimit.RemainingHeader))
	assert.Equal(t, strconv.FormatInt(testNow.Add(30*time.Second).UnixMilli(), 10), rec.Header().Get(ratelimit.ResetHeader))

	res, ok := ctx.StateBag()[ResultKey].(ratelimit.Result)
	require.True(t, ok)
	assert.True(t, res.Allowed)
}

func TestCompositeKeyAndPolicy(t *testing.T) {
	var gotKey string
	var gotPolicy ratelimit.Policy
	orders := ratelimit.Policy{MaxRequests: 10, Window: time.Minute}
	policies, err := ratelimit.NewPolicies(ratelimit.DefaultPolicy, map[string]ratelimit.Policy{"orders-service": orders})
	require.NoError(t, err)

	f := New(Options{
		Enabled:  true,
		Policies: policies,
		Evaluator: evaluatorFunc(func(key string, p ratelimit.Policy) ratelimit.Result {
			gotKey, gotPolicy = key, p
			return ratelimit.Result{Allowed: true, Limit: p.MaxRequests, Remaining: p.MaxRequests - 1, ResetAt: testNow}
		}),
	})

	ctx, rec := newRequestContext("orders-service")
	ctx.SetRequest(ctx.Request().WithContext(auth.NewContext(context.Background(), &auth.Principal{Subject: "alice"})))

	require.NoError(t, f.Request(ctx))
	assert.Equal(t, "orders-service:alice", gotKey)
	assert.Equal(t, orders, gotPolicy)
	assert.Equal(t, "9", rec.Header().Get(ratelimit.RemainingHeader))
}

func TestDeniedResponseThroughPipeline(t *testing.T) {
	f := newTestFilter(t, ratelimit.NewMemoryStore(), ratelimit.Policy{MaxRequests: 1, Window: time.Minute}, nil)
	h := pipeline.New(pipeline.Options{
		Router:  routerFunc(func(*http.Request) (string, bool) { return "orders-service", true }),
		Filters: []pipeline.Filter{f},
		Engine: engineFunc(func(ctx *pipeline.Context) error {
			ctx.ResponseWriter().WriteHeader(http.StatusNoContent)
			return nil
		}),
		Log: loggingtest.New(),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0", rec.Header().Get(ratelimit.RemainingHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(ratelimit.LimitHeader))
	assert.Equal(t, "0", rec.Header().Get(ratelimit.RemainingHeader))
	assert.NotEmpty(t, rec.Header().Get(ratelimit.RetryAfterHeader))
	assert.Contains(t, rec.Body.String(), faults.CodeRateLimitExceeded)
}

type routerFunc func(*http.Request) (string, bool)

func (f routerFunc) Match(r *http.Request) (string, bool) { return f(r) }

type engineFunc func(*pipeline.Context) error

func (f engineFunc) Forward(ctx *pipeline.Context) error { return f(ctx) }

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.opentelemetry.io/otel/propagation"

	"github.com/portfolio/apigateway/circuit"
	"github.com/portfolio/apigateway/fallback"
	"github.com/portfolio/apigateway/faults"
	authfilter "github.com/portfolio/apigateway/filters/auth"
	ratelimitfilter "github.com/portfolio/apigateway/filters/ratelimit"
	"github.com/portfolio/apigateway/filters/requestid"
	"github.com/portfolio/apigateway/logging"
	"github.com/portfolio/apigateway/metrics"
	snet "github.com/portfolio/apigateway/net"
	"github.com/portfolio/apigateway/pipeline"
	"github.com/portfolio/apigateway/proxy"
	"github.com/portfolio/apigateway/ratelimit"
)

const (
	defaultCleanupInterval = time.Minute

	healthPath  = "/health"
	metricsPath = "/metrics"
)

// Options of the gateway.
type Options struct {
	// Network address of the gateway.
	Address string

	// Network address of the /metrics and /health endpoints. Empty
	// disables the support listener.
	SupportListener string

	// Time to wait for in-flight requests on shutdown.
	ShutdownTimeout time.Duration

	// Routes of the forwarding engine.
	Routes []proxy.Route

	// Timeout of the backend round trip.
	BackendTimeout time.Duration

	// Breakers of the routes, see circuit.NewRegistry.
	BreakerSettings []circuit.BreakerSettings

	// Fallback path names and service names. Defaults to
	// fallback.DefaultServices.
	FallbackServices map[string]string

	// Transport of the forwarding engine. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper

	// When false, the rate limiting filter passes every request.
	EnableRatelimiters bool

	DefaultPolicy ratelimit.Policy
	RoutePolicies map[string]ratelimit.Policy

	// Resolution of the client address of the rate limit key.
	ClientAddr snet.ClientAddrOptions

	// PROXY protocol support of the gateway listener.
	ProxyProtocol snet.ProxyProtocolOptions

	// Redis options of the shared store.
	Redis snet.RedisOptions

	// Valkey options of the shared store, used when no redis address is
	// set. When neither has an address, the in-process store is used.
	Valkey snet.ValkeyOptions

	// Bounds one store round trip.
	StoreTimeout time.Duration

	// When set, New fails if the shared store is not reachable.
	WaitForHealthy bool

	// Name of the request id generator, uuid or ulid.
	RequestIDGenerator string

	// When set, the trace and span ids of the request log are read
	// from the W3C traceparent header.
	EnableTraceContext bool

	// Verifies bearer tokens. Nil disables authentication.
	Authenticator authfilter.Authenticator

	// ReloadPolicies is called on SIGHUP. Optional.
	ReloadPolicies func() (ratelimit.Policy, map[string]ratelimit.Policy, error)

	Log     logging.Logger
	Metrics metrics.Metrics
	Tracer  opentracing.Tracer
}

// Gateway is the assembled request pipeline with its collaborators.
type Gateway struct {
	options  Options
	handler  *pipeline.Handler
	policies *ratelimit.Policies
	memory   *ratelimit.MemoryStore
	redis    *snet.RedisClient
	valkey   *snet.ValkeyClient
	log      logging.Logger
	metrics  metrics.Metrics
}

var _ http.Handler = &Gateway{}

type stores struct {
	store  ratelimit.Store
	memory *ratelimit.MemoryStore
	redis  *snet.RedisClient
	valkey *snet.ValkeyClient
}

func newRedisStore(o Options) (stores, error) {
	ro := o.Redis
	if ro.Log == nil {
		ro.Log = o.Log
	}
	if ro.Metrics == nil {
		ro.Metrics = o.Metrics
	}

	client, err := snet.NewRedisClient(ro)
	if err != nil {
		return stores{}, err
	}

	if o.WaitForHealthy && !client.Available(context.Background()) {
		client.Close()
		return stores{}, fmt.Errorf("redis not available: %v", ro.Addrs)
	}

	return stores{store: ratelimit.NewRedisStore(client), redis: client}, nil
}

func newValkeyStore(o Options) (stores, error) {
	vo := o.Valkey
	if vo.Log == nil {
		vo.Log = o.Log
	}

	client, err := snet.NewValkeyClient(vo)
	if err != nil {
		return stores{}, err
	}

	if o.WaitForHealthy && !client.Available(context.Background()) {
		client.Close()
		return stores{}, fmt.Errorf("valkey not available: %v", vo.Addrs)
	}

	return stores{store: ratelimit.NewValkeyStore(client), valkey: client}, nil
}

func newStore(o Options) (stores, error) {
	switch {
	case len(o.Redis.Addrs) > 0:
		return newRedisStore(o)
	case len(o.Valkey.Addrs) > 0:
		return newValkeyStore(o)
	default:
		o.Log.Info("no shared store configured, using the in-process rate limit store")
		m := ratelimit.NewMemoryStore()
		return stores{store: m, memory: m}, nil
	}
}

func newAuthFilter(o Options, routes *proxy.Table) pipeline.Filter {
	if o.Authenticator == nil {
		return nil
	}

	return authfilter.New(authfilter.Options{
		Authenticator: o.Authenticator,
		Requirements:  routes,
	})
}

// New assembles the gateway. The filters run in the order:
// identification, authentication, rate limiting.
func New(o Options) (*Gateway, error) {
	if o.Log == nil {
		o.Log = logging.New()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}
	if o.Tracer == nil {
		o.Tracer = &opentracing.NoopTracer{}
	}
	if o.DefaultPolicy == (ratelimit.Policy{}) {
		o.DefaultPolicy = ratelimit.DefaultPolicy
	}

	policies, err := ratelimit.NewPolicies(o.DefaultPolicy, o.RoutePolicies)
	if err != nil {
		return nil, err
	}

	routes, err := proxy.NewTable(o.Routes)
	if err != nil {
		return nil, err
	}

	generator, err := requestid.NewGenerator(o.RequestIDGenerator)
	if err != nil {
		return nil, err
	}

	if _, err := snet.ParseIPCIDRs(o.ProxyProtocol.AllowListCIDRs); err != nil {
		return nil, fmt.Errorf("invalid proxy protocol allow list: %w", err)
	}

	var propagator propagation.TextMapPropagator = propagation.NewCompositeTextMapPropagator()
	if o.EnableTraceContext {
		propagator = propagation.TraceContext{}
	}

	st, err := newStore(o)
	if err != nil {
		return nil, err
	}

	engine := ratelimit.NewEngine(ratelimit.EngineOptions{
		Store:        st.store,
		StoreTimeout: o.StoreTimeout,
		Log:          o.Log,
		Metrics:      o.Metrics,
		Tracer:       o.Tracer,
	})

	filters := []pipeline.Filter{
		requestid.New(requestid.Options{
			Generator:  generator,
			Propagator: propagator,
			Log:        o.Log,
		}),
	}

	if f := newAuthFilter(o, routes); f != nil {
		filters = append(filters, f)
	}

	filters = append(filters, ratelimitfilter.New(ratelimitfilter.Options{
		Enabled:   o.EnableRatelimiters,
		Evaluator: engine,
		Policies:  policies,
		Resolver:  ratelimit.NewKeyResolver(o.ClientAddr),
	}))

	forwarder := proxy.New(proxy.Options{
		Routes:    routes,
		Timeout:   o.BackendTimeout,
		Breakers:  circuit.NewRegistry(o.BreakerSettings...),
		Transport: o.Transport,
		Log:       o.Log,
		Metrics:   o.Metrics,
		Tracer:    o.Tracer,
	})

	handler := pipeline.New(pipeline.Options{
		Router:     routes,
		Filters:    filters,
		Engine:     fallback.New(o.FallbackServices, forwarder),
		Translator: faults.NewTranslator(faults.Options{Log: o.Log}),
		ClientAddr: o.ClientAddr,
		Log:        o.Log,
		Metrics:    o.Metrics,
	})

	return &Gateway{
		options:  o,
		handler:  handler,
		policies: policies,
		memory:   st.memory,
		redis:    st.redis,
		valkey:   st.valkey,
		log:      o.Log,
		metrics:  o.Metrics,
	}, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

// Policies returns the rate limit policies in use.
func (g *Gateway) Policies() *ratelimit.Policies {
	return g.policies
}

// UpdatePolicies swaps the rate limit policies. Requests in flight keep
// the policy they resolved.
func (g *Gateway) UpdatePolicies(def ratelimit.Policy, routes map[string]ratelimit.Policy) error {
	if err := g.policies.Update(def, routes); err != nil {
		return err
	}

	g.log.Infof("rate limit policies updated, default: %v, routes: %d", def, len(routes))
	return nil
}

func (g *Gateway) reloadPolicies() error {
	if g.options.ReloadPolicies == nil {
		return errors.New("policy reload not configured")
	}

	def, routes, err := g.options.ReloadPolicies()
	if err != nil {
		return err
	}

	return g.UpdatePolicies(def, routes)
}

type health struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	h := health{Status: "UP", Store: "memory"}

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	var err error
	switch {
	case g.redis != nil:
		h.Store = "redis"
		err = g.redis.Ping(ctx)
	case g.valkey != nil:
		h.Store = "valkey"
		err = g.valkey.Ping(ctx)
	}

	// the gateway fails open, an unreachable store degrades only the
	// rate limiting
	if err != nil {
		h.Status = "DEGRADED"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h)
}

// SupportHandler serves the /health and /metrics endpoints.
func (g *Gateway) SupportHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, g.health)
	g.metrics.RegisterHandler(metricsPath, mux)
	return mux
}

// start runs the background tasks of the stores until ctx is done.
func (g *Gateway) start(ctx context.Context) {
	if g.memory != nil {
		g.memory.StartCleanup(ctx, defaultCleanupInterval)
	}
	if g.redis != nil {
		g.redis.StartMetricsCollection()
	}
}

// Close releases the store connections.
func (g *Gateway) Close() error {
	return errors.Join(g.redis.Close(), g.valkey.Close())
}

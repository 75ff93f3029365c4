package config

import (
	"flag"
	"fmt"
	"maps"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"go4.org/netipx"
	"gopkg.in/yaml.v2"

	"github.com/portfolio/apigateway/circuit"
	"github.com/portfolio/apigateway/fallback"
	"github.com/portfolio/apigateway/filters/requestid"
	"github.com/portfolio/apigateway/metrics"
	"github.com/portfolio/apigateway/net"
	"github.com/portfolio/apigateway/proxy"
	"github.com/portfolio/apigateway/ratelimit"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	progname      string
	args          []string
	errorHandling flag.ErrorHandling

	// generic:
	Address         string        `yaml:"address"`
	SupportListener string        `yaml:"support-listener"`
	WaitForHealthy  bool          `yaml:"wait-for-healthy"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`

	// logging:
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
	RequestLogDisabled        bool      `yaml:"request-log-disabled"`
	RequestLogJSONEnabled     bool      `yaml:"request-log-json-enabled"`
	RequestIDGenerator        string    `yaml:"request-id-generator"`
	EnableTraceContextHeaders bool      `yaml:"enable-trace-context"`

	// metrics:
	MetricsFlavour       *listFlag `yaml:"metrics-flavour"`
	MetricsPrefix        string    `yaml:"metrics-prefix"`
	EnableRuntimeMetrics bool      `yaml:"enable-runtime-metrics"`
	UseExpDecaySample    bool      `yaml:"metrics-exp-decay-sample"`

	// rate limiting:
	EnableRatelimiters bool              `yaml:"enable-ratelimits"`
	RatelimitDefault   *policyFlag       `yaml:"ratelimit-default"`
	RatelimitRoutes    *routePolicyFlags `yaml:"ratelimit-routes"`
	TrustedProxyDepth  int               `yaml:"trusted-proxy-depth"`
	TrustedProxies     *listFlag         `yaml:"trusted-proxies"`

	// proxy protocol:
	EnableProxyProtocol        bool          `yaml:"enable-proxy-protocol"`
	ProxyProtocolAllowList     *listFlag     `yaml:"proxy-protocol-allow-list"`
	ProxyProtocolHeaderTimeout time.Duration `yaml:"proxy-protocol-header-timeout"`

	// redis:
	RedisAddrs        *listFlag     `yaml:"redis-addrs"`
	RedisPassword     string        `yaml:"redis-password"`
	RedisCluster      bool          `yaml:"redis-cluster"`
	RedisTimeout      time.Duration `yaml:"redis-timeout"`
	RedisDialTimeout  time.Duration `yaml:"redis-dial-timeout"`
	RedisReadTimeout  time.Duration `yaml:"redis-read-timeout"`
	RedisWriteTimeout time.Duration `yaml:"redis-write-timeout"`
	RedisPoolTimeout  time.Duration `yaml:"redis-pool-timeout"`
	RedisMinConns     int           `yaml:"redis-min-conns"`
	RedisMaxConns     int           `yaml:"redis-max-conns"`
	RedisPingRetries  uint          `yaml:"redis-ping-retries"`

	// valkey:
	ValkeyAddrs       *listFlag     `yaml:"valkey-addrs"`
	ValkeyUsername    string        `yaml:"valkey-username"`
	ValkeyPassword    string        `yaml:"valkey-password"`
	ValkeyConnTimeout time.Duration `yaml:"valkey-conn-timeout"`

	// authentication:
	JWTKeyFile        string    `yaml:"jwt-key-file"`
	JWTSigningMethods *listFlag `yaml:"jwt-signing-methods"`

	// forwarding:
	Routes           *[]proxy.Route `yaml:"routes"`
	BackendTimeout   time.Duration  `yaml:"backend-timeout"`
	BreakerFailures  int            `yaml:"breaker-failures"`
	BreakerTimeout   time.Duration  `yaml:"breaker-timeout"`
	Breakers         breakerFlags   `yaml:"breaker"`
	FallbackServices *mapFlags      `yaml:"fallback-services"`
}

const (
	redisPasswordEnv  = "GATEWAY_REDIS_PASSWORD"
	valkeyPasswordEnv = "GATEWAY_VALKEY_PASSWORD"

	DefaultRedisTimeout = 100 * time.Millisecond
)

func NewConfig() *Config {
	cfg := new(Config)
	cfg.RatelimitDefault = newPolicyFlag()
	cfg.RatelimitRoutes = &routePolicyFlags{}
	cfg.TrustedProxies = commaListFlag()
	cfg.ProxyProtocolAllowList = commaListFlag()
	cfg.RedisAddrs = commaListFlag()
	cfg.ValkeyAddrs = commaListFlag()
	cfg.MetricsFlavour = commaListFlag("codahale", "prometheus")
	cfg.JWTSigningMethods = commaListFlag("RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "HS256", "HS384", "HS512")
	cfg.FallbackServices = newMapFlags()
	cfg.FallbackServices.values = maps.Clone(fallback.DefaultServices)
	cfg.errorHandling = flag.ExitOnError

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", ":8080", "network address that the gateway should listen on")
	flag.StringVar(&cfg.SupportListener, "support-listener", ":9911", "network address used for exposing the /metrics and /health endpoints. An empty value disables support endpoint.")
	flag.BoolVar(&cfg.WaitForHealthy, "wait-for-healthy", false, "wait for the redis store to be reachable before accepting requests")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "time to wait for in-flight requests on shutdown")

	// logging:
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", "[APP]", "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.BoolVar(&cfg.RequestLogDisabled, "request-log-disabled", false, "when this flag is set, no request log records are printed")
	flag.BoolVar(&cfg.RequestLogJSONEnabled, "request-log-json-enabled", true, "when this flag is set, request log records are printed in JSON format")
	flag.StringVar(&cfg.RequestIDGenerator, "request-id-generator", requestid.GeneratorUUID, "generator of the request ids, possible values: uuid, ulid")
	flag.BoolVar(&cfg.EnableTraceContextHeaders, "enable-trace-context", true, "read trace and span ids of the request log from the W3C traceparent header")

	// metrics:
	flag.Var(cfg.MetricsFlavour, "metrics-flavour", "Metrics flavour is used to change the exposed metrics format. Supported metric formats: 'codahale' and 'prometheus', you can select both of them by using one option with ',' separated values. Defaults to prometheus")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", "gateway", "prefix of the metric names")
	flag.BoolVar(&cfg.EnableRuntimeMetrics, "enable-runtime-metrics", true, "enables collection of Go runtime and process metrics")
	flag.BoolVar(&cfg.UseExpDecaySample, "metrics-exp-decay-sample", false, "use exponentially decaying samples in the codahale timers")

	// rate limiting:
	flag.BoolVar(&cfg.EnableRatelimiters, "enable-ratelimits", true, enableRatelimitsUsage)
	flag.Var(cfg.RatelimitDefault, "ratelimit-default", ratelimitDefaultUsage)
	flag.Var(cfg.RatelimitRoutes, "ratelimit-route", ratelimitRouteUsage)
	flag.IntVar(&cfg.TrustedProxyDepth, "trusted-proxy-depth", 1, "number of trusted proxies appending to X-Forwarded-For in front of the gateway, 0 ignores the header")
	flag.Var(cfg.TrustedProxies, "trusted-proxies", "comma separated CIDRs of the proxies whose X-Forwarded-For header is used, all when empty")
	flag.BoolVar(&cfg.EnableProxyProtocol, "enable-proxy-protocol", false, "read the client address from the PROXY protocol header sent by an L4 load balancer")
	flag.Var(cfg.ProxyProtocolAllowList, "proxy-protocol-allow-list", "comma separated CIDRs of the load balancers allowed to send the PROXY protocol header, all when empty")
	flag.DurationVar(&cfg.ProxyProtocolHeaderTimeout, "proxy-protocol-header-timeout", time.Second, "maximum wait for the PROXY protocol header of a connection")

	// redis:
	flag.Var(cfg.RedisAddrs, "redis-addrs", "Redis addresses as comma separated list, used as the shared store of the rate limiter. The in-process store is used when empty.\nUse "+redisPasswordEnv+" environment variable or 'redis-password' key in config file to set redis password")
	flag.BoolVar(&cfg.RedisCluster, "redis-cluster", false, "use the redis addresses as nodes of a redis cluster instead of a ring of shards")
	flag.DurationVar(&cfg.RedisTimeout, "redis-timeout", DefaultRedisTimeout, "timeout of one rate limit evaluation against redis, the request is allowed when exceeded")
	flag.DurationVar(&cfg.RedisDialTimeout, "redis-dial-timeout", net.DefaultDialTimeout, "set redis client dial timeout")
	flag.DurationVar(&cfg.RedisReadTimeout, "redis-read-timeout", net.DefaultReadTimeout, "set redis socket read timeout")
	flag.DurationVar(&cfg.RedisWriteTimeout, "redis-write-timeout", net.DefaultWriteTimeout, "set redis socket write timeout")
	flag.DurationVar(&cfg.RedisPoolTimeout, "redis-pool-timeout", net.DefaultPoolTimeout, "set redis get connection from pool timeout")
	flag.IntVar(&cfg.RedisMinConns, "redis-min-conns", net.DefaultMinConns, "set min number of connections to redis")
	flag.IntVar(&cfg.RedisMaxConns, "redis-max-conns", net.DefaultMaxConns, "set max number of connections to redis")
	flag.UintVar(&cfg.RedisPingRetries, "redis-ping-retries", 3, "number of attempts to reach redis on startup")

	// valkey:
	flag.Var(cfg.ValkeyAddrs, "valkey-addrs", "Valkey shard addresses as comma separated list, used as the shared store when no redis address is set.\nUse "+valkeyPasswordEnv+" environment variable or 'valkey-password' key in config file to set valkey password")
	flag.StringVar(&cfg.ValkeyUsername, "valkey-username", "", "username of the valkey connections")
	flag.DurationVar(&cfg.ValkeyConnTimeout, "valkey-conn-timeout", time.Second, "valkey socket read, write and dial timeout")

	// authentication:
	flag.StringVar(&cfg.JWTKeyFile, "jwt-key-file", "", "PEM file of the public key, or the secret for HMAC methods, verifying bearer tokens. Authentication is disabled when empty")
	flag.Var(cfg.JWTSigningMethods, "jwt-signing-methods", "comma separated list of the accepted token signing methods, defaults to RS256")

	// forwarding:
	flag.Var(newYamlFlag(&cfg.Routes), "routes", "routes of the forwarding engine in yaml, e.g. [{id: orders-service, path: /api/orders, backend: 'http://orders:8080', fallback: orders-service}]")
	flag.DurationVar(&cfg.BackendTimeout, "backend-timeout", proxy.DefaultTimeout, "timeout of the backend round trip")
	flag.IntVar(&cfg.BreakerFailures, "breaker-failures", 5, "consecutive backend failures opening the circuit breaker of a route, 0 disables the breakers")
	flag.DurationVar(&cfg.BreakerTimeout, "breaker-timeout", 60*time.Second, "duration the circuit breaker of a route stays open")
	flag.Var(&cfg.Breakers, "breaker", breakerUsage)
	flag.Var(cfg.FallbackServices, "fallback-services", "fallback path names and their service names, e.g. orders=orders-service,users=users-service")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	if _, err := requestid.NewGenerator(c.RequestIDGenerator); err != nil {
		return err
	}

	if c.TrustedProxyDepth < 0 {
		return fmt.Errorf("invalid trusted proxy depth: %d", c.TrustedProxyDepth)
	}

	if _, err := net.ParseIPCIDRs(c.TrustedProxies.Values()); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}

	if _, err := net.ParseIPCIDRs(c.ProxyProtocolAllowList.Values()); err != nil {
		return fmt.Errorf("invalid proxy protocol allow list: %w", err)
	}

	if _, err := c.RatelimitRoutes.resolve(c.RatelimitDefault.policy); err != nil {
		return err
	}

	if _, err := proxy.NewTable(c.RouteList()); err != nil {
		return err
	}

	if len(c.RedisAddrs.Values()) > 0 && len(c.ValkeyAddrs.Values()) > 0 {
		return fmt.Errorf("only one of redis-addrs and valkey-addrs can be set")
	}

	if c.RedisTimeout <= 0 {
		return fmt.Errorf("invalid redis timeout: %v", c.RedisTimeout)
	}

	return nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.progname = progname
	c.args = args

	c.Flags.Init(progname, c.errorHandling)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	c.parseEnv()

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	return nil
}

// Reload parses the same arguments again, re-reading the config file.
func (c *Config) Reload() (*Config, error) {
	n := NewConfig()
	n.errorHandling = flag.ContinueOnError
	if err := n.ParseArgs(c.progname, c.args); err != nil {
		return nil, err
	}

	return n, nil
}

func (c *Config) parseEnv() {
	// Set Redis password from environment variable if not set earlier (configuration file)
	if c.RedisPassword == "" {
		c.RedisPassword = os.Getenv(redisPasswordEnv)
	}
	if c.ValkeyPassword == "" {
		c.ValkeyPassword = os.Getenv(valkeyPasswordEnv)
	}
}

// RouteList returns the configured routes.
func (c *Config) RouteList() []proxy.Route {
	if c.Routes == nil {
		return nil
	}
	return *c.Routes
}

// Policies returns the default rate limit policy and the route
// overrides.
func (c *Config) Policies() (ratelimit.Policy, map[string]ratelimit.Policy, error) {
	def := c.RatelimitDefault.policy
	routes, err := c.RatelimitRoutes.resolve(def)
	return def, routes, err
}

// ClientAddrOptions returns the resolution options of the client
// address.
func (c *Config) ClientAddrOptions() net.ClientAddrOptions {
	var trusted *netipx.IPSet
	if cidrs := c.TrustedProxies.Values(); len(cidrs) > 0 {
		trusted, _ = net.ParseIPCIDRs(cidrs)
	}

	return net.ClientAddrOptions{
		TrustDepth:     c.TrustedProxyDepth,
		TrustedProxies: trusted,
	}
}

// ProxyProtocolOptions returns the PROXY protocol options of the gateway
// listener.
func (c *Config) ProxyProtocolOptions() net.ProxyProtocolOptions {
	return net.ProxyProtocolOptions{
		Enabled:           c.EnableProxyProtocol,
		AllowListCIDRs:    c.ProxyProtocolAllowList.Values(),
		ReadHeaderTimeout: c.ProxyProtocolHeaderTimeout,
	}
}

// RedisOptions returns the options of the redis client. Empty addresses
// select the in-process store.
func (c *Config) RedisOptions() net.RedisOptions {
	return net.RedisOptions{
		Addrs:        c.RedisAddrs.Values(),
		Password:     c.RedisPassword,
		Cluster:      c.RedisCluster,
		ReadTimeout:  c.RedisReadTimeout,
		WriteTimeout: c.RedisWriteTimeout,
		DialTimeout:  c.RedisDialTimeout,
		PoolTimeout:  c.RedisPoolTimeout,
		MinIdleConns: c.RedisMinConns,
		MaxConns:     c.RedisMaxConns,
		PingRetries:  c.RedisPingRetries,
	}
}

// MetricsOptions returns the options of the metrics backend.
func (c *Config) MetricsOptions() metrics.Options {
	kind, _ := metrics.ParseMetricsKind(c.MetricsFlavour.Values())
	return metrics.Options{
		Format:               kind,
		Prefix:               c.MetricsPrefix,
		EnableRuntimeMetrics: c.EnableRuntimeMetrics,
		UseExpDecaySample:    c.UseExpDecaySample,
	}
}

// ValkeyOptions returns the options of the valkey client.
func (c *Config) ValkeyOptions() net.ValkeyOptions {
	return net.ValkeyOptions{
		Addrs:            c.ValkeyAddrs.Values(),
		Username:         c.ValkeyUsername,
		Password:         c.ValkeyPassword,
		ConnWriteTimeout: c.ValkeyConnTimeout,
		PingRetries:      c.RedisPingRetries,
	}
}

// BreakerSettings returns the default breaker settings followed by the
// route settings.
func (c *Config) BreakerSettings() []circuit.BreakerSettings {
	s := []circuit.BreakerSettings{{
		Type:     circuit.ConsecutiveFailures,
		Failures: c.BreakerFailures,
		Timeout:  c.BreakerTimeout,
	}}
	if c.BreakerFailures <= 0 {
		s[0].Type = circuit.BreakerDisabled
	}

	return append(s, c.Breakers...)
}

// SigningMethods returns the accepted token signing methods.
func (c *Config) SigningMethods() []string {
	if m := c.JWTSigningMethods.Values(); len(m) > 0 {
		return m
	}
	return []string{"RS256"}
}

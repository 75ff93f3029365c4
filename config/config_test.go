package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/go-cmp/cmp"

	"github.com/portfolio/apigateway/circuit"
	"github.com/portfolio/apigateway/fallback"
	"github.com/portfolio/apigateway/metrics"
	"github.com/portfolio/apigateway/proxy"
	"github.com/portfolio/apigateway/ratelimit"
)

func TestEnvOverrides_RedisPassword(t *testing.T) {
	for _, tt := range []struct {
		name string
		args []string
		env  string
		want string
	}{
		{
			name: "don't set redis password either from file nor environment",
			args: []string{"gateway"},
			env:  "",
			want: "",
		},
		{
			name: "set redis password from environment",
			args: []string{"gateway"},
			env:  "set_from_env",
			want: "set_from_env",
		},
		{
			name: "set redis password from config file and ignore environment",
			args: []string{"gateway", "-config-file=testdata/test.yaml"},
			env:  "set_from_env",
			want: "set_from_file",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(redisPasswordEnv, tt.env)

			cfg := NewConfig()
			require.NoError(t, cfg.ParseArgs(tt.args[0], tt.args[1:]))
			assert.Equal(t, tt.want, cfg.RedisPassword)
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("gateway", nil))

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, ":9911", cfg.SupportListener)
	assert.Equal(t, log.InfoLevel, cfg.ApplicationLogLevel)
	assert.True(t, cfg.RequestLogJSONEnabled)
	assert.True(t, cfg.EnableRatelimiters)
	assert.Equal(t, 1, cfg.TrustedProxyDepth)
	assert.Equal(t, DefaultRedisTimeout, cfg.RedisTimeout)
	assert.Equal(t, "uuid", cfg.RequestIDGenerator)
	assert.Empty(t, cfg.RouteList())
	assert.Empty(t, cfg.RedisOptions().Addrs)
	assert.Equal(t, []string{"RS256"}, cfg.SigningMethods())
	assert.Equal(t, fallback.DefaultServices, cfg.FallbackServices.Values())

	def, routes, err := cfg.Policies()
	require.NoError(t, err)
	assert.Equal(t, ratelimit.DefaultPolicy, def)
	assert.Empty(t, routes)

	assert.Equal(t, []circuit.BreakerSettings{{
		Type:     circuit.ConsecutiveFailures,
		Failures: 5,
		Timeout:  time.Minute,
	}}, cfg.BreakerSettings())
}

func TestConfigFile(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("gateway", []string{
		"-config-file=testdata/test.yaml",
		"-address=:9090",
		"-ratelimit-route=route=products-service,max-requests=5",
	}))

	assert.Equal(t, ":9090", cfg.Address, "flags take precedence over the config file")
	assert.Equal(t, log.DebugLevel, cfg.ApplicationLogLevel)
	assert.Equal(t, []string{"redis-1:6379", "redis-2:6379"}, cfg.RedisOptions().Addrs)

	def, routes, err := cfg.Policies()
	require.NoError(t, err)
	assert.Equal(t, ratelimit.Policy{MaxRequests: 50, Window: 30 * time.Second}, def)
	if diff := cmp.Diff(map[string]ratelimit.Policy{
		"orders-service":   {MaxRequests: 10, Window: 30 * time.Second},
		"users-service":    {MaxRequests: 50, Window: 10 * time.Second},
		"products-service": {MaxRequests: 5, Window: 30 * time.Second},
	}, routes); diff != "" {
		t.Errorf("route policies mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, cfg.RouteList(), 2)
	assert.Equal(t, "orders-service", cfg.RouteList()[0].ID)
	assert.Equal(t, []string{"orders.read"}, cfg.RouteList()[0].Scopes)
	assert.True(t, cfg.RouteList()[1].Authenticated)

	breakers := cfg.BreakerSettings()
	require.Len(t, breakers, 2)
	assert.Equal(t, circuit.BreakerSettings{
		Type:     circuit.ConsecutiveFailures,
		Route:    "orders-service",
		Failures: 3,
		Timeout:  time.Minute,
	}, breakers[1])

	assert.Equal(t, map[string]string{"orders": "orders-service"}, cfg.FallbackServices.Values())
}

func TestRoutesFlag(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("gateway", []string{
		"-routes=[{id: orders-service, path: /api/orders, backend: 'http://orders:8080'}]",
	}))

	table, err := proxy.NewTable(cfg.RouteList())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders-service"}, table.IDs())
}

func TestClientAddrOptions(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("gateway", []string{
		"-trusted-proxy-depth=2",
		"-trusted-proxies=10.0.0.0/8,192.168.1.1",
	}))

	o := cfg.ClientAddrOptions()
	assert.Equal(t, 2, o.TrustDepth)
	require.NotNil(t, o.TrustedProxies)
}

func TestProxyProtocolOptions(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("gateway", nil))
	o := cfg.ProxyProtocolOptions()
	assert.False(t, o.Enabled)
	assert.Equal(t, time.Second, o.ReadHeaderTimeout)

	cfg = NewConfig()
	require.NoError(t, cfg.ParseArgs("gateway", []string{
		"-enable-proxy-protocol",
		"-proxy-protocol-allow-list=10.0.0.0/8, 192.168.0.10",
		"-proxy-protocol-header-timeout=500ms",
	}))

	o = cfg.ProxyProtocolOptions()
	assert.True(t, o.Enabled)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.10"}, o.AllowListCIDRs)
	assert.Equal(t, 500*time.Millisecond, o.ReadHeaderTimeout)

	opts, err := cfg.ToOptions()
	require.NoError(t, err)
	assert.Equal(t, o, opts.ProxyProtocol)
}

func TestMetricsOptions(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("gateway", nil))
	assert.Equal(t, metrics.PrometheusKind, cfg.MetricsOptions().Format)

	cfg = NewConfig()
	require.NoError(t, cfg.ParseArgs("gateway", []string{"-metrics-flavour=codahale,prometheus", "-metrics-prefix=edge"}))

	o := cfg.MetricsOptions()
	assert.Equal(t, metrics.AllKind, o.Format)
	assert.Equal(t, "edge", o.Prefix)
	assert.True(t, o.EnableRuntimeMetrics)
}

func TestValkeyOptions(t *testing.T) {
	t.Setenv(valkeyPasswordEnv, "from-env")

	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("gateway", []string{
		"-valkey-addrs=valkey-1:6379, valkey-2:6379",
		"-valkey-conn-timeout=250ms",
	}))

	o := cfg.ValkeyOptions()
	assert.Equal(t, []string{"valkey-1:6379", "valkey-2:6379"}, o.Addrs)
	assert.Equal(t, "from-env", o.Password)
	assert.Equal(t, 250*time.Millisecond, o.ConnWriteTimeout)
	assert.Empty(t, cfg.RedisOptions().Addrs)
}

func TestInvalid(t *testing.T) {
	for _, tt := range []struct {
		name string
		args []string
	}{
		{"log level", []string{"-application-log-level=LOUD"}},
		{"generator", []string{"-request-id-generator=sequence"}},
		{"proxy depth", []string{"-trusted-proxy-depth=-1"}},
		{"trusted proxies", []string{"-trusted-proxies=not-a-cidr"}},
		{"proxy protocol allow list", []string{"-proxy-protocol-allow-list=10.0.0.0/33"}},
		{"redis timeout", []string{"-redis-timeout=0s"}},
		{"metrics flavour", []string{"-metrics-flavour=statsd"}},
		{"two stores", []string{"-redis-addrs=redis:6379", "-valkey-addrs=valkey:6379"}},
		{"route", []string{"-config-file=testdata/invalid_route.yaml"}},
		{"config file", []string{"-config-file=testdata/missing.yaml"}},
		{"arguments", []string{"extra"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.errorHandling = flag.ContinueOnError
			cfg.Flags.SetOutput(io.Discard)
			assert.Error(t, cfg.ParseArgs("gateway", tt.args))
		})
	}
}

func TestReload(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("ratelimit-default: {max-requests: 20, window: 1m}\n"), 0o644))

	cfg := NewConfig()
	require.NoError(t, cfg.ParseArgs("gateway", []string{"-config-file=" + file}))

	def, _, err := cfg.Policies()
	require.NoError(t, err)
	assert.Equal(t, int64(20), def.MaxRequests)

	require.NoError(t, os.WriteFile(file, []byte("ratelimit-default: {max-requests: 30, window: 1m}\n"), 0o644))

	reloaded, err := cfg.Reload()
	require.NoError(t, err)

	def, _, err = reloaded.Policies()
	require.NoError(t, err)
	assert.Equal(t, int64(30), def.MaxRequests)

	require.NoError(t, os.WriteFile(file, []byte("ratelimit-default: {max-requests: -1}\n"), 0o644))
	_, err = cfg.Reload()
	assert.Error(t, err)
}

package config

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	gateway "github.com/portfolio/apigateway"
	"github.com/portfolio/apigateway/auth"
	"github.com/portfolio/apigateway/logging"
	"github.com/portfolio/apigateway/ratelimit"
)

// ToOptions returns the gateway options of the configuration. Reloading
// the configuration on SIGHUP replaces the rate limit policies.
func (c *Config) ToOptions() (gateway.Options, error) {
	def, routes, err := c.Policies()
	if err != nil {
		return gateway.Options{}, err
	}

	o := gateway.Options{
		Address:            c.Address,
		SupportListener:    c.SupportListener,
		ShutdownTimeout:    c.ShutdownTimeout,
		Routes:             c.RouteList(),
		BackendTimeout:     c.BackendTimeout,
		BreakerSettings:    c.BreakerSettings(),
		FallbackServices:   c.FallbackServices.Values(),
		EnableRatelimiters: c.EnableRatelimiters,
		DefaultPolicy:      def,
		RoutePolicies:      routes,
		ClientAddr:         c.ClientAddrOptions(),
		ProxyProtocol:      c.ProxyProtocolOptions(),
		Redis:              c.RedisOptions(),
		Valkey:             c.ValkeyOptions(),
		StoreTimeout:       c.RedisTimeout,
		WaitForHealthy:     c.WaitForHealthy,
		RequestIDGenerator: c.RequestIDGenerator,
		EnableTraceContext: c.EnableTraceContextHeaders,
		ReloadPolicies:     c.reloadPolicies,
		Log:                logging.New(),
	}

	if c.JWTKeyFile != "" {
		methods := c.SigningMethods()
		keyfunc, err := auth.LoadKeyfunc(c.JWTKeyFile, methods)
		if err != nil {
			return gateway.Options{}, fmt.Errorf("failed to load the token verification key: %w", err)
		}

		o.Authenticator = auth.NewTokenAuthenticator(keyfunc, methods...)
	} else {
		log.Warn("no token verification key configured, authentication disabled")
	}

	return o, nil
}

func (c *Config) reloadPolicies() (ratelimit.Policy, map[string]ratelimit.Policy, error) {
	n, err := c.Reload()
	if err != nil {
		return ratelimit.Policy{}, nil, err
	}

	return n.Policies()
}

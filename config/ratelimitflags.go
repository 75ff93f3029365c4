package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/portfolio/apigateway/ratelimit"
)

const ratelimitDefaultUsage = `set the default rate limit policy, e.g. -ratelimit-default max-requests=100,window=60s
	possible properties:
	max-requests: the number of requests allowed per key in the window
	window: the duration of the sliding window`

const ratelimitRouteUsage = `set the rate limit policy of a route, e.g. -ratelimit-route route=orders-service,max-requests=10,window=60s
	can be repeated, properties not set are taken from the default policy`

const enableRatelimitsUsage = `enable rate limiting of the matched routes`

var errInvalidRatelimitConfig = errors.New("invalid ratelimit config (allowed keys are: route, max-requests and window)")

type policyYAML struct {
	MaxRequests int64         `yaml:"max-requests"`
	Window      time.Duration `yaml:"window"`
}

// parsePolicy parses the flag representation of a policy. Properties
// not set are taken from base.
func parsePolicy(value string, base ratelimit.Policy) (string, ratelimit.Policy, error) {
	var route string
	p := base

	for vi := range strings.SplitSeq(value, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(vi), "=")
		if !found {
			return "", p, errInvalidRatelimitConfig
		}

		switch k {
		case "route":
			route = v
		case "max-requests":
			i, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return "", p, fmt.Errorf("%w: %w", errInvalidRatelimitConfig, err)
			}
			p.MaxRequests = i
		case "window":
			d, err := time.ParseDuration(v)
			if err != nil {
				return "", p, fmt.Errorf("%w: %w", errInvalidRatelimitConfig, err)
			}
			p.Window = d
		default:
			return "", p, errInvalidRatelimitConfig
		}
	}

	return route, p, p.Validate()
}

type policyFlag struct {
	policy ratelimit.Policy
}

func newPolicyFlag() *policyFlag {
	return &policyFlag{policy: ratelimit.DefaultPolicy}
}

func (f *policyFlag) String() string {
	if f == nil {
		return ""
	}
	return f.policy.String()
}

func (f *policyFlag) Set(value string) error {
	route, p, err := parsePolicy(value, ratelimit.DefaultPolicy)
	if err != nil {
		return err
	}

	if route != "" {
		return fmt.Errorf("%w: route not allowed in the default policy", errInvalidRatelimitConfig)
	}

	f.policy = p
	return nil
}

func (f *policyFlag) UnmarshalYAML(unmarshal func(any) error) error {
	y := policyYAML{MaxRequests: ratelimit.DefaultMaxRequests, Window: ratelimit.DefaultWindow}
	if err := unmarshal(&y); err != nil {
		return err
	}

	p := ratelimit.Policy{MaxRequests: y.MaxRequests, Window: y.Window}
	if err := p.Validate(); err != nil {
		return err
	}

	f.policy = p
	return nil
}

// routePolicyFlags are the rate limit overrides of routes. Flags are
// kept unparsed until the default policy is known.
type routePolicyFlags struct {
	flags    []string
	policies map[string]policyYAML
}

func (r *routePolicyFlags) String() string {
	if r == nil {
		return ""
	}

	s := slices.Clone(r.flags)
	for _, route := range slices.Sorted(maps.Keys(r.policies)) {
		p := r.policies[route]
		s = append(s, fmt.Sprintf("route=%s,max-requests=%d,window=%v", route, p.MaxRequests, p.Window))
	}

	return strings.Join(s, "\n")
}

func (r *routePolicyFlags) Set(value string) error {
	route, _, err := parsePolicy(value, ratelimit.DefaultPolicy)
	if err != nil {
		return err
	}

	if route == "" {
		return fmt.Errorf("%w: missing route", errInvalidRatelimitConfig)
	}

	r.flags = append(r.flags, value)
	return nil
}

func (r *routePolicyFlags) UnmarshalYAML(unmarshal func(any) error) error {
	var policies map[string]policyYAML
	if err := unmarshal(&policies); err != nil {
		return err
	}

	r.policies = policies
	return nil
}

// resolve returns the route policies, completing unset properties from
// the default policy. Flags take precedence over the config file.
func (r *routePolicyFlags) resolve(def ratelimit.Policy) (map[string]ratelimit.Policy, error) {
	routes := make(map[string]ratelimit.Policy)
	for route, y := range r.policies {
		p := def
		if y.MaxRequests != 0 {
			p.MaxRequests = y.MaxRequests
		}
		if y.Window != 0 {
			p.Window = y.Window
		}

		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("route %s: %w", route, err)
		}

		routes[route] = p
	}

	for _, f := range r.flags {
		route, p, err := parsePolicy(f, def)
		if err != nil {
			return nil, err
		}

		routes[route] = p
	}

	return routes, nil
}

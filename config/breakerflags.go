package config

import (
	"strings"

	"github.com/portfolio/apigateway/circuit"
)

const breakerUsage = `set custom parameters for the circuit breaker of a route, e.g. -breaker route=orders-service,failures=3,timeout=1m
	possible breaker properties:
	type: consecutive/disabled (defaults to consecutive when failures is set)
	route: the route id the settings apply to, the default settings when empty
	failures: the number of consecutive failures opening the breaker
	timeout: duration the breaker stays open
	half-open-requests: the number of requests allowed in half-open state
	idle-ttl: duration after an unused breaker is recycled`

type breakerFlags []circuit.BreakerSettings

func (b breakerFlags) String() string {
	s := make([]string, len(b))
	for i, bi := range b {
		s[i] = bi.String()
	}

	return strings.Join(s, "\n")
}

func (b *breakerFlags) Set(value string) error {
	s, err := circuit.ParseSettings(value)
	if err != nil {
		return err
	}

	*b = append(*b, s)
	return nil
}

func (b *breakerFlags) UnmarshalYAML(unmarshal func(any) error) error {
	var settings []circuit.BreakerSettings
	if err := unmarshal(&settings); err != nil {
		return err
	}

	for i := range settings {
		if settings[i].Type == circuit.BreakerNone && settings[i].Failures > 0 {
			settings[i].Type = circuit.ConsecutiveFailures
		}
	}

	*b = settings
	return nil
}

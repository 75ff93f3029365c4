package circuit

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrOpen is reported when a breaker rejects a request.
var ErrOpen = errors.New("circuit breaker open")

// BreakerType selects how a route is protected.
type BreakerType int

const (
	BreakerNone BreakerType = iota
	ConsecutiveFailures
	BreakerDisabled
)

func parseType(value string) (BreakerType, error) {
	switch value {
	case "consecutive":
		return ConsecutiveFailures, nil
	case "disabled":
		return BreakerDisabled, nil
	default:
		return BreakerNone, fmt.Errorf("invalid breaker type %v (allowed values are: consecutive or disabled)", value)
	}
}

func (b *BreakerType) UnmarshalYAML(unmarshal func(any) error) error {
	var value string
	if err := unmarshal(&value); err != nil {
		return err
	}

	t, err := parseType(value)
	if err != nil {
		return err
	}

	*b = t
	return nil
}

// BreakerSettings configure the breaker of a route. Settings without a
// route are the defaults of all routes.
type BreakerSettings struct {
	Type             BreakerType   `yaml:"type"`
	Route            string        `yaml:"route"`
	Failures         int           `yaml:"failures"`
	Timeout          time.Duration `yaml:"timeout"`
	HalfOpenRequests int           `yaml:"half-open-requests"`
	IdleTTL          time.Duration `yaml:"idle-ttl"`
}

// mergeSettings fills the unset fields of to from from.
func (to BreakerSettings) mergeSettings(from BreakerSettings) BreakerSettings {
	to.Type = cmp.Or(to.Type, from.Type)
	to.Failures = cmp.Or(to.Failures, from.Failures)
	to.Timeout = cmp.Or(to.Timeout, from.Timeout)
	to.HalfOpenRequests = cmp.Or(to.HalfOpenRequests, from.HalfOpenRequests)
	to.IdleTTL = cmp.Or(to.IdleTTL, from.IdleTTL)
	return to
}

// String returns the flag representation of the settings. Only the set
// fields are listed.
func (s BreakerSettings) String() string {
	switch s.Type {
	case BreakerDisabled:
		return "disabled"
	case ConsecutiveFailures:
	default:
		return "none"
	}

	pairs := []string{"type=consecutive"}
	add := func(set bool, key, value string) {
		if set {
			pairs = append(pairs, key+"="+value)
		}
	}

	add(s.Route != "", "route", s.Route)
	add(s.Failures > 0, "failures", strconv.Itoa(s.Failures))
	add(s.Timeout > 0, "timeout", s.Timeout.String())
	add(s.HalfOpenRequests > 0, "half-open-requests", strconv.Itoa(s.HalfOpenRequests))
	add(s.IdleTTL > 0, "idle-ttl", s.IdleTTL.String())
	return strings.Join(pairs, ",")
}

// ParseSettings parses the flag representation of the settings, e.g.
// "route=orders-service,failures=3,timeout=1m". Setting failures implies
// the consecutive type.
func ParseSettings(value string) (BreakerSettings, error) {
	var s BreakerSettings
	for _, kv := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			return s, fmt.Errorf("invalid breaker setting %q", kv)
		}

		var err error
		switch k {
		case "type":
			s.Type, err = parseType(v)
		case "route":
			s.Route = v
		case "failures":
			s.Failures, err = strconv.Atoi(v)
		case "timeout":
			s.Timeout, err = time.ParseDuration(v)
		case "half-open-requests":
			s.HalfOpenRequests, err = strconv.Atoi(v)
		case "idle-ttl":
			s.IdleTTL, err = time.ParseDuration(v)
		default:
			err = fmt.Errorf("unknown breaker setting %q", k)
		}

		if err != nil {
			return s, fmt.Errorf("invalid breaker setting %q: %w", kv, err)
		}
	}

	if s.Type == BreakerNone && s.Failures > 0 {
		s.Type = ConsecutiveFailures
	}

	return s, nil
}

// Breaker guards the backend of a single route. Breakers are created by
// the Registry.
type Breaker struct {
	settings BreakerSettings
	ts       time.Time
	gb       *gobreaker.TwoStepCircuitBreaker
}

func newBreaker(s BreakerSettings) *Breaker {
	b := &Breaker{settings: s}
	b.gb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        s.Route,
		MaxRequests: uint32(max(0, s.HalfOpenRequests)),
		Timeout:     s.Timeout,
		ReadyToTrip: b.readyToTrip,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infof("circuit breaker %v went from %v to %v", name, from.String(), to.String())
		},
	})

	return b
}

func (b *Breaker) readyToTrip(c gobreaker.Counts) bool {
	return int(c.ConsecutiveFailures) >= b.settings.Failures
}

// Allow reports whether the request may be forwarded. When it may, the
// returned function must be called with the success of the forwarding.
func (b *Breaker) Allow() (func(bool), bool) {
	done, err := b.gb.Allow()
	if err != nil {
		return nil, false
	}

	return done, true
}

// State returns the name of the current state: closed, half-open or open.
func (b *Breaker) State() string {
	return b.gb.State().String()
}

func (b *Breaker) idle(now time.Time) bool {
	return now.Sub(b.ts) > b.settings.IdleTTL
}

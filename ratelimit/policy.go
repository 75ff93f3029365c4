package ratelimit

import (
	"errors"
	"fmt"
	"maps"
	"sync/atomic"
	"time"
)

const (
	DefaultMaxRequests = 100
	DefaultWindow      = 60 * time.Second
)

var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// Policy is the maximum number of requests admitted per window.
type Policy struct {
	MaxRequests int64
	Window      time.Duration
}

// DefaultPolicy is used when no default policy is configured.
var DefaultPolicy = Policy{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}

func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidPolicy, p.MaxRequests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidPolicy, p.Window)
	}
	return nil
}

func (p Policy) String() string {
	return fmt.Sprintf("max-requests=%d,window=%v", p.MaxRequests, p.Window)
}

type policySet struct {
	def    Policy
	routes map[string]Policy
}

// Policies holds the default policy and the route overrides. Readers
// never block: Update replaces the whole set atomically.
type Policies struct {
	set atomic.Pointer[policySet]
}

// NewPolicies validates and returns the policies.
func NewPolicies(def Policy, routes map[string]Policy) (*Policies, error) {
	p := &Policies{}
	if err := p.Update(def, routes); err != nil {
		return nil, err
	}
	return p, nil
}

// Update replaces the policies. Evaluations in flight keep the policy
// they resolved. Nothing changes when a policy is invalid.
func (p *Policies) Update(def Policy, routes map[string]Policy) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("default policy: %w", err)
	}

	for id, rp := range routes {
		if id == "" {
			return fmt.Errorf("%w: empty route id", ErrInvalidPolicy)
		}
		if err := rp.Validate(); err != nil {
			return fmt.Errorf("route %s: %w", id, err)
		}
	}

	p.set.Store(&policySet{def: def, routes: maps.Clone(routes)})
	return nil
}

// Resolve returns the override of the route, matched exactly, or the
// default policy.
func (p *Policies) Resolve(routeID string) Policy {
	s := p.set.Load()
	if s == nil {
		return DefaultPolicy
	}

	if rp, ok := s.routes[routeID]; ok {
		return rp
	}
	return s.def
}

// Default returns the current default policy.
func (p *Policies) Default() Policy {
	if s := p.set.Load(); s != nil {
		return s.def
	}
	return DefaultPolicy
}

// Routes returns a copy of the current route overrides.
func (p *Policies) Routes() map[string]Policy {
	if s := p.set.Load(); s != nil {
		return maps.Clone(s.routes)
	}
	return nil
}

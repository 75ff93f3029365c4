package circuit

import (
	"sync"
	"time"
)

const DefaultIdleTTL = time.Hour

// Registry holds a breaker per route. Breakers not used for longer than
// their idle TTL are dropped and start over closed.
type Registry struct {
	defaults      BreakerSettings
	routeSettings map[string]BreakerSettings
	lookup        map[string]*Breaker
	mx            sync.Mutex
	now           func() time.Time
}

// NewRegistry merges the settings of the same route, the later ones
// taking precedence, and completes them from the defaults.
func NewRegistry(settings ...BreakerSettings) *Registry {
	var (
		defaults      BreakerSettings
		routeSettings []BreakerSettings
	)

	for _, s := range settings {
		if s.Route == "" {
			defaults = defaults.mergeSettings(s)
			continue
		}

		routeSettings = append(routeSettings, s)
	}

	if defaults.IdleTTL <= 0 {
		defaults.IdleTTL = DefaultIdleTTL
	}

	rs := make(map[string]BreakerSettings)
	for _, s := range routeSettings {
		if sr, ok := rs[s.Route]; ok {
			rs[s.Route] = s.mergeSettings(sr)
		} else {
			rs[s.Route] = s.mergeSettings(defaults)
		}
	}

	return &Registry{
		defaults:      defaults,
		routeSettings: rs,
		lookup:        make(map[string]*Breaker),
		now:           time.Now,
	}
}

// Settings returns the effective settings of a route.
func (r *Registry) Settings(route string) BreakerSettings {
	s, ok := r.routeSettings[route]
	if !ok {
		s = r.defaults
		s.Route = route
	}

	return s
}

func (r *Registry) get(s BreakerSettings) *Breaker {
	r.mx.Lock()
	defer r.mx.Unlock()

	now := r.now()
	if b, ok := r.lookup[s.Route]; ok && !b.idle(now) {
		b.ts = now
		return b
	}

	for route, b := range r.lookup {
		if b.idle(now) {
			delete(r.lookup, route)
		}
	}

	b := newBreaker(s)
	b.ts = now
	r.lookup[s.Route] = b
	return b
}

// Get returns the breaker of the route, or nil when the route is not
// protected.
func (r *Registry) Get(route string) *Breaker {
	if r == nil || route == "" {
		return nil
	}

	s := r.Settings(route)
	if s.Type != ConsecutiveFailures || s.Failures <= 0 {
		return nil
	}

	return r.get(s)
}

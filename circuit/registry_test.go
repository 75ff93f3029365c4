package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	defaults := BreakerSettings{Type: ConsecutiveFailures, Failures: 5, Timeout: time.Minute}

	t.Run("no settings", func(t *testing.T) {
		assert.Nil(t, NewRegistry().Get("orders-service"))
	})

	t.Run("nil registry", func(t *testing.T) {
		var r *Registry
		assert.Nil(t, r.Get("orders-service"))
	})

	t.Run("no route", func(t *testing.T) {
		assert.Nil(t, NewRegistry(defaults).Get(""))
	})

	t.Run("defaults", func(t *testing.T) {
		r := NewRegistry(defaults)
		b := r.Get("orders-service")
		if assert.NotNil(t, b) {
			assert.Equal(t, "orders-service", b.settings.Route)
			assert.Equal(t, 5, b.settings.Failures)
			assert.Equal(t, DefaultIdleTTL, b.settings.IdleTTL)
		}
	})

	t.Run("same breaker per route", func(t *testing.T) {
		r := NewRegistry(defaults)
		assert.Same(t, r.Get("orders-service"), r.Get("orders-service"))
		assert.NotSame(t, r.Get("orders-service"), r.Get("users-service"))
	})

	t.Run("route settings merged with defaults", func(t *testing.T) {
		r := NewRegistry(defaults, BreakerSettings{Route: "orders-service", Failures: 3})
		b := r.Get("orders-service")
		if assert.NotNil(t, b) {
			assert.Equal(t, 3, b.settings.Failures)
			assert.Equal(t, time.Minute, b.settings.Timeout)
			assert.Equal(t, ConsecutiveFailures, b.settings.Type)
		}
	})

	t.Run("route disabled", func(t *testing.T) {
		r := NewRegistry(defaults, BreakerSettings{Route: "health", Type: BreakerDisabled})
		assert.Nil(t, r.Get("health"))
		assert.NotNil(t, r.Get("orders-service"))
	})

	t.Run("route enabled without defaults", func(t *testing.T) {
		r := NewRegistry(BreakerSettings{Route: "orders-service", Type: ConsecutiveFailures, Failures: 2})
		assert.NotNil(t, r.Get("orders-service"))
		assert.Nil(t, r.Get("users-service"))
	})

	t.Run("idle breakers are recycled", func(t *testing.T) {
		r := NewRegistry(defaults)
		now := time.Now()
		r.now = func() time.Time { return now }

		b := r.Get("orders-service")
		now = now.Add(2 * DefaultIdleTTL)
		assert.NotSame(t, b, r.Get("orders-service"))
	})
}

// no checks, used for race detector
func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry(BreakerSettings{Type: ConsecutiveFailures, Failures: 5})
	routes := []string{"orders-service", "users-service", "products-service"}

	var wg sync.WaitGroup
	for i := range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := r.Get(routes[i%len(routes)])
			if done, ok := b.Allow(); ok {
				done(i%2 == 0)
			}
		}()
	}
	wg.Wait()
}

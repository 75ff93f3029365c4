// Package metricstest records the metrics of the gateway in memory for
// the assertions of the tests.
package metricstest

import (
	"net/http"
	"sync"
	"time"

	"github.com/portfolio/apigateway/metrics"
)

var _ metrics.Metrics = &MockMetrics{}

// MockMetrics is safe for concurrent use. The zero value is ready.
type MockMetrics struct {
	// Prefix is prepended to every recorded key.
	Prefix string

	// Now replaces the clock of MeasureSince when set.
	Now time.Time

	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	measures map[string][]time.Duration
}

func (m *MockMetrics) locked(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.counters == nil {
		m.counters = make(map[string]int64)
		m.gauges = make(map[string]float64)
		m.measures = make(map[string][]time.Duration)
	}

	f()
}

// WithCounters calls f with the recorded counters while holding the lock.
func (m *MockMetrics) WithCounters(f func(map[string]int64)) {
	m.locked(func() { f(m.counters) })
}

func (m *MockMetrics) WithGauges(f func(map[string]float64)) {
	m.locked(func() { f(m.gauges) })
}

func (m *MockMetrics) WithMeasures(f func(map[string][]time.Duration)) {
	m.locked(func() { f(m.measures) })
}

func (m *MockMetrics) MeasureSince(key string, start time.Time) {
	end := m.Now
	if end.IsZero() {
		end = time.Now()
	}

	m.locked(func() {
		k := m.Prefix + key
		m.measures[k] = append(m.measures[k], end.Sub(start))
	})
}

func (m *MockMetrics) IncCounter(key string) { m.IncCounterBy(key, 1) }

func (m *MockMetrics) IncCounterBy(key string, value int64) {
	m.locked(func() { m.counters[m.Prefix+key] += value })
}

func (m *MockMetrics) UpdateGauge(key string, value float64) {
	m.locked(func() { m.gauges[m.Prefix+key] = value })
}

func (*MockMetrics) RegisterHandler(string, *http.ServeMux) {}

func (m *MockMetrics) Counter(key string) (v int64, ok bool) {
	m.locked(func() { v, ok = m.counters[key] })
	return
}

func (m *MockMetrics) Gauge(key string) (v float64, ok bool) {
	m.locked(func() { v, ok = m.gauges[key] })
	return
}

func (m *MockMetrics) Measure(key string) (d []time.Duration, ok bool) {
	m.locked(func() { d, ok = m.measures[key] })
	return
}

package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "gateway"

// Prometheus exposes the gateway keys as the label of three vectors:
// <namespace>_requests_duration_seconds, <namespace>_events_total and
// <namespace>_state.
type Prometheus struct {
	durations *prometheus.HistogramVec
	events    *prometheus.CounterVec
	state     *prometheus.GaugeVec
	handler   http.Handler
}

func NewPrometheus(o Options) *Prometheus {
	ns := defaultNamespace
	if o.Prefix != "" {
		ns = strings.TrimSuffix(o.Prefix, ".")
	}

	buckets := o.HistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	p := &Prometheus{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "requests_duration_seconds",
			Help:      "Duration of the measured gateway operations.",
			Buckets:   buckets,
		}, []string{"key"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_total",
			Help:      "Number of counted gateway events.",
		}, []string{"key"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "state",
			Help:      "Last reported value of the gateway gauges.",
		}, []string{"key"}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(p.durations, p.events, p.state)
	if o.EnableRuntimeMetrics {
		reg.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}

	p.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return p
}

// CreateHandler returns the exposition handler of the registry.
func (p *Prometheus) CreateHandler() http.Handler {
	return p.handler
}

func (p *Prometheus) RegisterHandler(path string, mux *http.ServeMux) {
	mux.Handle(path, p.handler)
}

func (p *Prometheus) MeasureSince(key string, start time.Time) {
	p.durations.WithLabelValues(key).Observe(time.Since(start).Seconds())
}

func (p *Prometheus) IncCounter(key string) {
	p.IncCounterBy(key, 1)
}

func (p *Prometheus) IncCounterBy(key string, value int64) {
	p.events.WithLabelValues(key).Add(float64(value))
}

func (p *Prometheus) UpdateGauge(key string, value float64) {
	p.state.WithLabelValues(key).Set(value)
}

package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind is the format of the exposed metrics.
type Kind int

const (
	UnknownKind  Kind = 0
	CodaHaleKind Kind = 1 << iota
	PrometheusKind
	AllKind = CodaHaleKind | PrometheusKind
)

func (k Kind) String() string {
	switch k {
	case CodaHaleKind:
		return "codahale"
	case PrometheusKind:
		return "prometheus"
	case AllKind:
		return "all"
	default:
		return "unknown"
	}
}

// ParseMetricsKind returns the kind of the listed flavours. An empty
// list selects Prometheus.
func ParseMetricsKind(flavours []string) (Kind, error) {
	var k Kind
	for _, f := range flavours {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "codahale":
			k |= CodaHaleKind
		case "prometheus":
			k |= PrometheusKind
		default:
			return UnknownKind, fmt.Errorf("unknown metrics flavour: %q", f)
		}
	}

	if k == UnknownKind {
		k = PrometheusKind
	}
	return k, nil
}

// Metrics is the generic interface that all the required backends
// should implement to be a gateway metrics compatible backend.
type Metrics interface {
	MeasureSince(key string, start time.Time)
	IncCounter(key string)
	IncCounterBy(key string, value int64)
	UpdateGauge(key string, value float64)
	RegisterHandler(path string, handler *http.ServeMux)
}

// Options for initializing metrics collection.
type Options struct {
	// the metrics exposing format
	Format Kind

	// Common prefix for the keys of the different
	// collected metrics.
	Prefix string

	// If set, Go runtime and process metrics are collected
	// in addition to the gateway metrics.
	EnableRuntimeMetrics bool

	// If set, the CodaHale timers use an exponentially decaying sample
	// instead of a uniform one.
	UseExpDecaySample bool

	// HistogramBuckets defines buckets into which the
	// observations are counted. Defaults to
	// prometheus.DefBuckets.
	HistogramBuckets []float64
}

// Default is the metrics backend used by the packages that were not
// given an explicit one. It discards everything until Init is called.
var Default Metrics = Void

// Void is a noop backend.
var Void Metrics = voidMetrics{}

// NewMetrics returns the backend of the configured format.
func NewMetrics(o Options) Metrics {
	switch o.Format {
	case AllKind:
		return NewAll(o)
	case CodaHaleKind:
		return NewCodaHale(o)
	default:
		return NewPrometheus(o)
	}
}

// Init installs a new backend as Default and returns it.
func Init(o Options) Metrics {
	Default = NewMetrics(o)
	return Default
}

type voidMetrics struct{}

func (voidMetrics) MeasureSince(string, time.Time)         {}
func (voidMetrics) IncCounter(string)                      {}
func (voidMetrics) IncCounterBy(string, int64)             {}
func (voidMetrics) UpdateGauge(string, float64)            {}
func (voidMetrics) RegisterHandler(string, *http.ServeMux) {}

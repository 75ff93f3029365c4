package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	pathpkg "path"
	"strings"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

const (
	statsRefreshDuration = 5 * time.Second

	defaultUniformReservoirSize  = 1024
	defaultExpDecayReservoirSize = 1028
	defaultExpDecayAlpha         = 0.015
)

// CodaHale keeps the gateway metrics in a go-metrics registry and
// serves them as DropWizard style JSON grouped by family.
type CodaHale struct {
	reg           metrics.Registry
	createTimer   func() metrics.Timer
	createCounter func() metrics.Counter
	createGauge   func() metrics.GaugeFloat64
	options       Options
	handler       http.Handler
	quit          chan struct{}
	once          sync.Once
}

func NewCodaHale(o Options) *CodaHale {
	c := &CodaHale{
		reg:           metrics.NewRegistry(),
		createCounter: metrics.NewCounter,
		createGauge:   metrics.NewGaugeFloat64,
		options:       o,
		quit:          make(chan struct{}),
	}

	createSample := newUniformSample
	if o.UseExpDecaySample {
		createSample = newExpDecaySample
	}
	c.createTimer = func() metrics.Timer { return createTimer(createSample()) }

	if o.EnableRuntimeMetrics {
		metrics.RegisterRuntimeMemStats(c.reg)
		go c.captureRuntimeMemStats()
	}

	return c
}

func newUniformSample() metrics.Sample {
	return metrics.NewUniformSample(defaultUniformReservoirSize)
}

func newExpDecaySample() metrics.Sample {
	return metrics.NewExpDecaySample(defaultExpDecayReservoirSize, defaultExpDecayAlpha)
}

func createTimer(sample metrics.Sample) metrics.Timer {
	return metrics.NewCustomTimer(metrics.NewHistogram(sample), metrics.NewMeter())
}

func (c *CodaHale) captureRuntimeMemStats() {
	t := time.NewTicker(statsRefreshDuration)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			metrics.CaptureRuntimeMemStatsOnce(c.reg)
		case <-c.quit:
			return
		}
	}
}

// Close stops the runtime statistics collection.
func (c *CodaHale) Close() {
	c.once.Do(func() { close(c.quit) })
}

func (c *CodaHale) MeasureSince(key string, start time.Time) {
	c.reg.GetOrRegister(key, c.createTimer).(metrics.Timer).UpdateSince(start)
}

func (c *CodaHale) IncCounter(key string) {
	c.IncCounterBy(key, 1)
}

func (c *CodaHale) IncCounterBy(key string, value int64) {
	c.reg.GetOrRegister(key, c.createCounter).(metrics.Counter).Inc(value)
}

func (c *CodaHale) UpdateGauge(key string, v float64) {
	c.reg.GetOrRegister(key, c.createGauge).(metrics.GaugeFloat64).Update(v)
}

// RegisterHandler serves the whole registry on path and the keys
// starting with a given prefix below it, e.g. /metrics/ratelimit.redis.
func (c *CodaHale) RegisterHandler(path string, mux *http.ServeMux) {
	h := c.getHandler(path)
	mux.Handle(path, h)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", h)
	}
}

func (c *CodaHale) CreateHandler(path string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		_, key := pathpkg.Split(strings.TrimPrefix(r.URL.Path, path))
		snapshot := c.snapshot(key)
		if len(snapshot) == 0 {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot); err != nil {
			log.Errorf("Failed to encode metrics: %v", err)
		}
	})
}

func (c *CodaHale) getHandler(path string) http.Handler {
	if c.handler == nil {
		c.handler = c.CreateHandler(path)
	}

	return c.handler
}

// snapshot groups the registered metrics by family. The keys are
// reported with the configured prefix. An empty key selects all metrics.
func (c *CodaHale) snapshot(key string) map[string]map[string]map[string]any {
	prefix := c.options.Prefix
	key = strings.TrimPrefix(key, prefix)

	families := make(map[string]map[string]map[string]any)
	c.reg.Each(func(name string, m any) {
		if key != "" && !strings.HasPrefix(name, key) {
			return
		}

		family, values := describe(m)
		if families[family] == nil {
			families[family] = make(map[string]map[string]any)
		}

		families[family][prefix+name] = values
	})

	return families
}

var percentiles = []float64{0.5, 0.75, 0.95, 0.99, 0.999}

type distribution interface {
	Count() int64
	Min() int64
	Max() int64
	Mean() float64
	StdDev() float64
	Percentiles([]float64) []float64
}

func distributionValues(d distribution) map[string]any {
	ps := d.Percentiles(percentiles)
	return map[string]any{
		"count":  d.Count(),
		"min":    d.Min(),
		"max":    d.Max(),
		"mean":   d.Mean(),
		"stddev": d.StdDev(),
		"median": ps[0],
		"75%":    ps[1],
		"95%":    ps[2],
		"99%":    ps[3],
		"99.9%":  ps[4],
	}
}

func describe(m any) (string, map[string]any) {
	switch m := m.(type) {
	case metrics.Counter:
		return "counters", map[string]any{"count": m.Snapshot().Count()}
	case metrics.Gauge:
		return "gauges", map[string]any{"value": m.Snapshot().Value()}
	case metrics.GaugeFloat64:
		return "gauges", map[string]any{"value": m.Snapshot().Value()}
	case metrics.Histogram:
		return "histograms", distributionValues(m.Snapshot())
	case metrics.Timer:
		t := m.Snapshot()
		v := distributionValues(t)
		v["1m.rate"] = t.Rate1()
		v["5m.rate"] = t.Rate5()
		v["15m.rate"] = t.Rate15()
		v["mean.rate"] = t.RateMean()
		return "timers", v
	default:
		return "unknown", map[string]any{"error": fmt.Sprintf("unsupported metric type %T", m)}
	}
}

package metrics

import (
	"net/http"
	"time"
)

const codaHaleContentType = "application/codahale+json"

// All collects into both the Prometheus and the CodaHale backends. The
// handler serves the CodaHale format when it is requested with the
// Accept header application/codahale+json.
type All struct {
	prometheus *Prometheus
	codaHale   *CodaHale
}

func NewAll(o Options) *All {
	return &All{
		prometheus: NewPrometheus(o),
		codaHale:   NewCodaHale(o),
	}
}

func (a *All) MeasureSince(key string, start time.Time) {
	a.prometheus.MeasureSince(key, start)
	a.codaHale.MeasureSince(key, start)
}

func (a *All) IncCounter(key string) {
	a.prometheus.IncCounter(key)
	a.codaHale.IncCounter(key)
}

func (a *All) IncCounterBy(key string, value int64) {
	a.prometheus.IncCounterBy(key, value)
	a.codaHale.IncCounterBy(key, value)
}

func (a *All) UpdateGauge(key string, v float64) {
	a.prometheus.UpdateGauge(key, v)
	a.codaHale.UpdateGauge(key, v)
}

// Close stops the runtime statistics collection of the CodaHale backend.
func (a *All) Close() {
	a.codaHale.Close()
}

func (a *All) RegisterHandler(path string, handler *http.ServeMux) {
	handler.Handle(path, a.newHandler(a.prometheus.CreateHandler(), a.codaHale.getHandler(path)))
}

func (a *All) newHandler(prometheusHandler, codaHaleHandler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Accept") == codaHaleContentType {
			codaHaleHandler.ServeHTTP(w, req)
		} else {
			prometheusHandler.ServeHTTP(w, req)
		}
	})
}

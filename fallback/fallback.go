// Package fallback answers the degraded responses of unavailable
// downstream services.
//
// Requests to /fallback/{name} are answered with a 503 envelope naming
// the service and the X-Fallback-Response header. The forwarding engine
// redirects here when the circuit breaker of a route is open.
package fallback

import (
	"maps"
	"strings"

	"github.com/portfolio/apigateway/faults"
	"github.com/portfolio/apigateway/pipeline"
)

// PathPrefix of the fallback endpoints.
const PathPrefix = "/fallback/"

// DefaultServices maps the fallback path names to service names.
var DefaultServices = map[string]string{
	"orders":   "orders-service",
	"users":    "users-service",
	"products": "products-service",
}

// Responder is a forwarding engine answering fallback paths and passing
// other requests to the next engine.
type Responder struct {
	services map[string]string
	next     pipeline.Engine
}

var _ pipeline.Engine = &Responder{}

// New returns a responder for services, or DefaultServices when nil.
func New(services map[string]string, next pipeline.Engine) *Responder {
	if services == nil {
		services = DefaultServices
	}
	return &Responder{services: maps.Clone(services), next: next}
}

// Service returns the service name of a fallback path.
func (r *Responder) Service(path string) (string, bool) {
	name, ok := strings.CutPrefix(path, PathPrefix)
	if !ok {
		return "", false
	}

	s, ok := r.services[strings.Trim(name, "/")]
	return s, ok
}

// Forward answers fallback paths with the degraded response.
func (r *Responder) Forward(ctx *pipeline.Context) error {
	if s, ok := r.Service(ctx.Request().URL.Path); ok {
		return faults.ServiceUnavailable(s, nil)
	}

	if r.next == nil {
		return faults.New(404, "ROUTE_NOT_FOUND", "No route matched the request.")
	}
	return r.next.Forward(ctx)
}

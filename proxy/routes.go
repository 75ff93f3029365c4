package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	authfilter "github.com/portfolio/apigateway/filters/auth"
)

var (
	ErrInvalidRoute   = errors.New("invalid route")
	ErrDuplicateRoute = errors.New("duplicate route id")
)

// Route is an entry of the route table.
type Route struct {
	ID string `yaml:"id"`

	// Path prefix of the requests matched by the route.
	Path string `yaml:"path"`

	// Backend URL. The path of the request is appended to the path of
	// the backend URL.
	Backend string `yaml:"backend"`

	// Fallback is the name of the service answering while the
	// backend is unavailable. Defaults to the route id.
	Fallback string `yaml:"fallback"`

	// Authenticated routes reject requests without credentials.
	Authenticated bool `yaml:"authenticated"`

	// Scopes required from the caller.
	Scopes []string `yaml:"scopes"`

	backend *url.URL
}

func (r *Route) validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRoute)
	}

	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("%w: %s: path must start with /", ErrInvalidRoute, r.ID)
	}

	u, err := url.Parse(r.Backend)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRoute, r.ID, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: %s: backend must be an absolute http(s) URL", ErrInvalidRoute, r.ID)
	}

	r.backend = u
	return nil
}

// FallbackService returns the service name reported while the backend
// is unavailable.
func (r *Route) FallbackService() string {
	if r.Fallback != "" {
		return r.Fallback
	}
	return r.ID
}

func (r *Route) matches(path string) bool {
	if !strings.HasPrefix(path, r.Path) {
		return false
	}

	return len(path) == len(r.Path) ||
		strings.HasSuffix(r.Path, "/") ||
		path[len(r.Path)] == '/'
}

// Table is an immutable route table. It implements the router of the
// pipeline and the route requirements of the authentication filter.
type Table struct {
	routes []*Route
	byID   map[string]*Route
}

// NewTable validates the routes and returns their table.
func NewTable(routes []Route) (*Table, error) {
	t := &Table{byID: make(map[string]*Route)}
	for _, r := range routes {
		if err := r.validate(); err != nil {
			return nil, err
		}

		if _, ok := t.byID[r.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, r.ID)
		}

		t.routes = append(t.routes, &r)
		t.byID[r.ID] = &r
	}

	// longest prefix first
	slices.SortStableFunc(t.routes, func(a, b *Route) int {
		return len(b.Path) - len(a.Path)
	})

	return t, nil
}

// Match returns the id of the route with the longest prefix matching
// the request path.
func (t *Table) Match(r *http.Request) (string, bool) {
	for _, rt := range t.routes {
		if rt.matches(r.URL.Path) {
			return rt.ID, true
		}
	}

	return "", false
}

// Route returns a route by id.
func (t *Table) Route(id string) (*Route, bool) {
	r, ok := t.byID[id]
	return r, ok
}

// IDs returns the route ids in table order.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.routes))
	for _, r := range t.routes {
		ids = append(ids, r.ID)
	}
	return ids
}

func (t *Table) Requirement(routeID string) authfilter.Requirement {
	r, ok := t.byID[routeID]
	if !ok {
		return authfilter.Requirement{}
	}

	return authfilter.Requirement{
		Authenticated: r.Authenticated,
		Scopes:        r.Scopes,
	}
}

package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authfilter "github.com/portfolio/apigateway/filters/auth"
)

var testRoutes = []Route{{
	ID:       "orders-service",
	Path:     "/api/orders",
	Backend:  "http://orders.internal:8080",
	Fallback: "orders-service",
	Scopes:   []string{"orders.read"},
}, {
	ID:       "order-items",
	Path:     "/api/orders/items",
	Backend:  "http://items.internal:8080",
	Fallback: "orders-service",
}, {
	ID:            "users-service",
	Path:          "/api/users/",
	Backend:       "https://users.internal",
	Authenticated: true,
}, {
	ID:      "root",
	Path:    "/",
	Backend: "http://default.internal",
}}

func TestTableMatch(t *testing.T) {
	table, err := NewTable(testRoutes)
	require.NoError(t, err)

	for _, tt := range []struct {
		path  string
		route string
	}{
		{"/api/orders", "orders-service"},
		{"/api/orders/42", "orders-service"},
		{"/api/orders/items", "order-items"},
		{"/api/orders/items/7", "order-items"},
		{"/api/ordersx", "root"},
		{"/api/users/1", "users-service"},
		{"/api/users", "root"},
		{"/", "root"},
		{"/health", "root"},
	} {
		t.Run(tt.path, func(t *testing.T) {
			id, ok := table.Match(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.True(t, ok)
			assert.Equal(t, tt.route, id)
		})
	}
}

func TestTableNoMatch(t *testing.T) {
	table, err := NewTable(testRoutes[:1])
	require.NoError(t, err)

	_, ok := table.Match(httptest.NewRequest(http.MethodGet, "/api/users", nil))
	assert.False(t, ok)

	_, ok = (&Table{}).Match(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestNewTableInvalid(t *testing.T) {
	for _, tt := range []struct {
		name   string
		routes []Route
		err    error
	}{
		{"missing id", []Route{{Path: "/", Backend: "http://b"}}, ErrInvalidRoute},
		{"relative path", []Route{{ID: "a", Path: "api", Backend: "http://b"}}, ErrInvalidRoute},
		{"relative backend", []Route{{ID: "a", Path: "/", Backend: "/b"}}, ErrInvalidRoute},
		{"backend scheme", []Route{{ID: "a", Path: "/", Backend: "ftp://b"}}, ErrInvalidRoute},
		{"backend url", []Route{{ID: "a", Path: "/", Backend: "http://b:x"}}, ErrInvalidRoute},
		{"duplicate", []Route{{ID: "a", Path: "/", Backend: "http://b"}, {ID: "a", Path: "/x", Backend: "http://b"}}, ErrDuplicateRoute},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.routes)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestTableRoutes(t *testing.T) {
	table, err := NewTable(testRoutes)
	require.NoError(t, err)

	assert.Equal(t, []string{"order-items", "orders-service", "users-service", "root"}, table.IDs())

	r, ok := table.Route("root")
	require.True(t, ok)
	assert.Equal(t, "root", r.FallbackService())

	r, ok = table.Route("order-items")
	require.True(t, ok)
	assert.Equal(t, "orders-service", r.FallbackService())

	_, ok = table.Route("missing")
	assert.False(t, ok)
}

func TestTableRequirement(t *testing.T) {
	table, err := NewTable(testRoutes)
	require.NoError(t, err)

	assert.Equal(t, authfilter.Requirement{Scopes: []string{"orders.read"}}, table.Requirement("orders-service"))
	assert.Equal(t, authfilter.Requirement{Authenticated: true}, table.Requirement("users-service"))
	assert.Equal(t, authfilter.Requirement{}, table.Requirement("missing"))
}

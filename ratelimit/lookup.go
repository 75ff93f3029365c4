package ratelimit

import (
	"net/http"
	"strings"

	"github.com/portfolio/apigateway/auth"
	"github.com/portfolio/apigateway/net"
)

// Anonymous is the identity of callers without principal and address.
const Anonymous = "anonymous"

// KeyResolver resolves the identity a request is counted for.
type KeyResolver struct {
	// ClientAddr controls the use of X-Forwarded-For. The zero value
	// ignores the header; NewKeyResolver trusts one proxy.
	ClientAddr net.ClientAddrOptions
}

// NewKeyResolver returns a resolver trusting the given number of proxies
// in front of the gateway.
func NewKeyResolver(o net.ClientAddrOptions) *KeyResolver {
	return &KeyResolver{ClientAddr: o}
}

// Resolve returns the subject of the authenticated principal, the client
// address or Anonymous. It does not enforce authentication.
func (kr *KeyResolver) Resolve(r *http.Request) string {
	if s := strings.TrimSpace(auth.SubjectFromContext(r.Context())); s != "" {
		return s
	}

	if addr := net.ClientAddr(r, kr.ClientAddr); addr.IsValid() {
		return addr.String()
	}

	return Anonymous
}

// Key joins the route id and the identity into the counting key.
func Key(routeID, identity string) string {
	if identity == "" {
		identity = Anonymous
	}
	return routeID + ":" + identity
}

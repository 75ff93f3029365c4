// Package auth carries the authenticated principal of a request and
// derives it from bearer tokens.
package auth

import (
	"context"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	// Subject is the stable name of the caller.
	Subject string

	// Scopes granted to the caller.
	Scopes []string

	Claims jwt.MapClaims
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return p != nil && slices.Contains(p.Scopes, scope)
}

type principalKey struct{}

// NewContext returns a context carrying p.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal of the context, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// SubjectFromContext returns the subject of the principal in ctx or "".
func SubjectFromContext(ctx context.Context) string {
	if p, ok := FromContext(ctx); ok {
		return p.Subject
	}
	return ""
}

// SubjectFromClaims returns the preferred_username claim, falling back to
// sub.
func SubjectFromClaims(claims jwt.MapClaims) string {
	if s, ok := claims["preferred_username"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	if s, ok := claims["sub"].(string); ok {
		return s
	}
	return ""
}

// ScopesFromClaims reads the space separated scope claim, or the scp
// claim as a list.
func ScopesFromClaims(claims jwt.MapClaims) []string {
	if s, ok := claims["scope"].(string); ok {
		return strings.Fields(s)
	}

	var scopes []string
	switch v := claims["scp"].(type) {
	case []any:
		for _, s := range v {
			if s, ok := s.(string); ok {
				scopes = append(scopes, s)
			}
		}
	case string:
		scopes = strings.Fields(v)
	}
	return scopes
}

// NewPrincipal builds the principal of verified claims.
func NewPrincipal(claims jwt.MapClaims) *Principal {
	return &Principal{
		Subject: SubjectFromClaims(claims),
		Scopes:  ScopesFromClaims(claims),
		Claims:  claims,
	}
}

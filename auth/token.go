package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

const (
	authHeaderName   = "Authorization"
	authHeaderPrefix = "Bearer "
)

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidToken        = errors.New("invalid token")
)

// TokenAuthenticator verifies bearer tokens. Signature verification is
// delegated to the key function, which selects the key of a token.
type TokenAuthenticator struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// NewTokenAuthenticator returns an authenticator accepting the given
// signing methods, e.g. "RS256".
func NewTokenAuthenticator(keyfunc jwt.Keyfunc, methods ...string) *TokenAuthenticator {
	var opts []jwt.ParserOption
	if len(methods) > 0 {
		opts = append(opts, jwt.WithValidMethods(methods))
	}

	return &TokenAuthenticator{
		keyfunc: keyfunc,
		parser:  jwt.NewParser(opts...),
	}
}

func getToken(r *http.Request) (string, bool) {
	h := r.Header.Get(authHeaderName)
	if !strings.HasPrefix(h, authHeaderPrefix) {
		return "", false
	}

	token := strings.TrimSpace(h[len(authHeaderPrefix):])
	return token, token != ""
}

// Authenticate returns the principal of the bearer token of r. Errors
// wrap ErrCredentialsNotFound or ErrInvalidToken.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	raw, ok := getToken(r)
	if !ok {
		return nil, ErrCredentialsNotFound
	}

	claims := jwt.MapClaims{}
	token, err := a.parser.ParseWithClaims(raw, claims, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	p := NewPrincipal(claims)
	if p.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return p, nil
}

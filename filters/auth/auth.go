/*
Package auth provides the authentication filter of the gateway pipeline.

The filter extracts the bearer token of the request and verifies it with
the configured authenticator. The principal of a valid token is stored in
the request context, where the rate limiting filter picks up its subject
as the counting identity. Routes requiring authentication reject requests
without credentials, and routes requiring scopes reject principals that
were not granted all of them.

Rejections are returned as faults:

	missing token            401 CREDENTIALS_NOT_FOUND
	invalid or expired token 401 INVALID_TOKEN
	missing scope            403 ACCESS_DENIED
*/
package auth

import (
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/portfolio/apigateway/auth"
	"github.com/portfolio/apigateway/faults"
	"github.com/portfolio/apigateway/pipeline"
)

// Keys used in the context state bag.
const (
	UserKey         = "auth-user"
	RejectReasonKey = "auth-reject-reason"
)

type rejectReason string

const (
	missingToken rejectReason = "missing-token"
	invalidToken rejectReason = "invalid-token"
	invalidScope rejectReason = "invalid-scope"
)

var errMissingScope = errors.New("missing scope")

// Authenticator derives the principal of a request. It is implemented by
// auth.TokenAuthenticator.
type Authenticator interface {
	Authenticate(*http.Request) (*auth.Principal, error)
}

// Requirement of a route.
type Requirement struct {
	// Authenticated routes reject requests without credentials.
	Authenticated bool

	// Scopes the principal must have all been granted. Non-empty scopes
	// imply Authenticated.
	Scopes []string
}

// Requirements returns the requirement of a route id.
type Requirements interface {
	Requirement(routeID string) Requirement
}

type Options struct {
	Authenticator Authenticator

	// When nil, credentials are optional on every route.
	Requirements Requirements
}

type filter struct {
	authenticator Authenticator
	requirements  Requirements
}

var _ pipeline.Filter = &filter{}

// New returns the authentication filter. Without an authenticator the
// filter passes every request.
func New(o Options) pipeline.Filter {
	return &filter{authenticator: o.Authenticator, requirements: o.Requirements}
}

func (f *filter) requirement(routeID string) Requirement {
	if f.requirements == nil || routeID == "" {
		return Requirement{}
	}

	req := f.requirements.Requirement(routeID)
	if len(req.Scopes) > 0 {
		req.Authenticated = true
	}
	return req
}

// all checks that all strings in the left are also in the right.
func all(left, right []string) bool {
	for _, l := range left {
		var found bool
		for _, r := range right {
			if l == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func reject(ctx *pipeline.Context, uname string, reason rejectReason) {
	log.Debugf("uname: %s, reason: %s", uname, reason)
	ctx.StateBag()[UserKey] = uname
	ctx.StateBag()[RejectReasonKey] = string(reason)
}

func (f *filter) Request(ctx *pipeline.Context) error {
	if f.authenticator == nil {
		return nil
	}

	req := f.requirement(ctx.RouteID)
	r := ctx.Request()

	p, err := f.authenticator.Authenticate(r)
	switch {
	case errors.Is(err, auth.ErrCredentialsNotFound):
		if !req.Authenticated {
			return nil
		}
		reject(ctx, "", missingToken)
		return faults.CredentialsNotFound()
	case err != nil:
		reject(ctx, "", invalidToken)
		return faults.InvalidToken(err)
	}

	if !all(req.Scopes, p.Scopes) {
		reject(ctx, p.Subject, invalidScope)
		return faults.AccessDenied(fmt.Errorf("%w: route %s requires %v", errMissingScope, ctx.RouteID, req.Scopes))
	}

	ctx.StateBag()[UserKey] = p.Subject
	ctx.SetRequest(r.WithContext(auth.NewContext(r.Context(), p)))
	return nil
}

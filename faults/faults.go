// Package faults defines the closed set of gateway faults and translates
// them into the JSON error envelope sent to clients.
//
// Filters and the forwarding engine return faults instead of writing
// error responses. The Translator is the single place where an error
// becomes a response: it writes exactly one envelope with its status code
// and headers, or nothing when the response was already committed.
package faults

import (
	"fmt"
	"net/http"
	"time"
)

// Kind enumerates the fault taxonomy.
type Kind int

const (
	KindInternal Kind = iota
	KindQuotaExceeded
	KindUnauthorized
	KindAccessDenied
	KindServiceUnavailable
	KindBadGateway
	KindGatewayTimeout
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindUnauthorized:
		return "unauthorized"
	case KindAccessDenied:
		return "access_denied"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindBadGateway:
		return "bad_gateway"
	case KindGatewayTimeout:
		return "gateway_timeout"
	case KindGateway:
		return "gateway"
	default:
		return "internal"
	}
}

const (
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeCredentialsNotFound = "CREDENTIALS_NOT_FOUND"
	CodeAccessDenied        = "ACCESS_DENIED"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeBadGateway          = "BAD_GATEWAY"
	CodeGatewayTimeout      = "GATEWAY_TIMEOUT"
	CodeInternal            = "INTERNAL_ERROR"
)

const internalMessage = "Internal gateway error. Please try again later."

// Quota is the payload of a rate limit fault.
type Quota struct {
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the retry delay up to whole seconds, at least 1.
func (q *Quota) RetryAfterSeconds() int64 {
	s := int64((q.RetryAfter + time.Second - 1) / time.Second)
	return max(1, s)
}

// Fault is a classified gateway error. The status and code are bound to
// the kind by the constructors, except for KindGateway where they are
// declared by the caller.
type Fault struct {
	Kind    Kind
	Status  int
	Code    string
	Message string

	// Set for KindQuotaExceeded.
	Quota *Quota

	// Name of the unavailable downstream service, set for
	// KindServiceUnavailable.
	Service string

	// Additional envelope details of a generic gateway fault.
	Details map[string]any

	Cause error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.Cause }

// QuotaExceeded is raised by the rate limiting filter when a key used up
// its window.
func QuotaExceeded(limit, remaining int64, resetAt time.Time, retryAfter time.Duration) *Fault {
	q := &Quota{Limit: limit, Remaining: remaining, ResetAt: resetAt, RetryAfter: retryAfter}
	return &Fault{
		Kind:    KindQuotaExceeded,
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimitExceeded,
		Message: fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", q.RetryAfterSeconds()),
		Quota:   q,
	}
}

func unauthorized(code, msg string, cause error) *Fault {
	return &Fault{
		Kind:    KindUnauthorized,
		Status:  http.StatusUnauthorized,
		Code:    code,
		Message: msg,
		Cause:   cause,
	}
}

// Unauthorized means authentication is required.
func Unauthorized(msg string, cause error) *Fault {
	if msg == "" {
		msg = "Authentication is required to access this resource."
	}
	return unauthorized(CodeUnauthorized, msg, cause)
}

// InvalidToken means the presented token could not be parsed, failed
// verification or expired.
func InvalidToken(cause error) *Fault {
	return unauthorized(CodeInvalidToken, "Access token is invalid or expired.", cause)
}

// CredentialsNotFound means no credentials were presented.
func CredentialsNotFound() *Fault {
	return unauthorized(CodeCredentialsNotFound, "Authentication credentials were not found.", nil)
}

// AccessDenied means the principal lacks a permission.
func AccessDenied(cause error) *Fault {
	return &Fault{
		Kind:    KindAccessDenied,
		Status:  http.StatusForbidden,
		Code:    CodeAccessDenied,
		Message: "Insufficient permission to access this resource.",
		Cause:   cause,
	}
}

// ServiceUnavailable means the downstream service is degraded and the
// fallback response is sent.
func ServiceUnavailable(service string, cause error) *Fault {
	return &Fault{
		Kind:    KindServiceUnavailable,
		Status:  http.StatusServiceUnavailable,
		Code:    CodeServiceUnavailable,
		Message: fmt.Sprintf("The service %s is temporarily unavailable. Try again in a few moments.", service),
		Service: service,
		Cause:   cause,
	}
}

func BadGateway(cause error) *Fault {
	return &Fault{
		Kind:    KindBadGateway,
		Status:  http.StatusBadGateway,
		Code:    CodeBadGateway,
		Message: "The downstream service could not be reached.",
		Cause:   cause,
	}
}

func GatewayTimeout(cause error) *Fault {
	return &Fault{
		Kind:    KindGatewayTimeout,
		Status:  http.StatusGatewayTimeout,
		Code:    CodeGatewayTimeout,
		Message: "The downstream service did not respond in time.",
		Cause:   cause,
	}
}

// New returns a generic gateway fault with a declared status and code.
func New(status int, code, msg string) *Fault {
	return &Fault{
		Kind:    KindGateway,
		Status:  status,
		Code:    code,
		Message: msg,
	}
}

// Internal wraps an unclassified error. The message sent to the client
// never contains the cause.
func Internal(cause error) *Fault {
	return &Fault{
		Kind:    KindInternal,
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: internalMessage,
		Cause:   cause,
	}
}

package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

const (
	// LimitHeader is the limit of the policy applied to the request
	LimitHeader = "X-RateLimit-Limit"
	// RemainingHeader is the number of requests left in the window
	RemainingHeader = "X-RateLimit-Remaining"
	// ResetHeader is the time the window resets, in unix milliseconds
	ResetHeader = "X-RateLimit-Reset"
	// RetryAfterHeader is name of the header which will be used to indicate how
	// long a client should wait before making a new request
	RetryAfterHeader = "Retry-After"
)

// Result of a rate limit evaluation.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter is the time until the window of a denied key resets, at
// least one second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}

// SetHeaders sets the rate limit headers on h.
func SetHeaders(h http.Header, limit, remaining int64, resetAt time.Time) {
	h.Set(LimitHeader, strconv.FormatInt(limit, 10))
	h.Set(RemainingHeader, strconv.FormatInt(remaining, 10))
	h.Set(ResetHeader, strconv.FormatInt(resetAt.UnixMilli(), 10))
}

// ExposedHeaders are the headers browsers may read from cross origin
// responses.
var ExposedHeaders = []string{LimitHeader, RemainingHeader, ResetHeader, RetryAfterHeader}

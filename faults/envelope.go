package faults

import (
	"net/http"
	"time"
)

// Envelope is the JSON body of every error response sent by the gateway.
type Envelope struct {
	Status    int            `json:"status"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"errorCode,omitempty"`
	Message   string         `json:"message,omitempty"`
	Path      string         `json:"path,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewEnvelope builds the envelope of a fault for the given request path
// and correlation id.
func NewEnvelope(f *Fault, path, requestID string, now time.Time) *Envelope {
	e := &Envelope{
		Status:    f.Status,
		Error:     http.StatusText(f.Status),
		ErrorCode: f.Code,
		Message:   f.Message,
		Path:      path,
		RequestID: requestID,
		Timestamp: now.UTC(),
	}

	switch f.Kind {
	case KindQuotaExceeded:
		if f.Quota != nil {
			e.Details = map[string]any{
				"limit":             f.Quota.Limit,
				"remaining":         f.Quota.Remaining,
				"retryAfterSeconds": f.Quota.RetryAfterSeconds(),
			}
		}
	case KindServiceUnavailable:
		if f.Service != "" {
			e.Details = map[string]any{"service": f.Service}
		}
	case KindGateway:
		if len(f.Details) > 0 {
			e.Details = f.Details
		}
	}

	return e
}

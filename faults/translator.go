package faults

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/portfolio/apigateway/logging"
	"github.com/portfolio/apigateway/ratelimit"
)

const (
	// FallbackHeader marks degraded responses.
	FallbackHeader = "X-Fallback-Response"

	contentTypeJSON = "application/json"
)

// Committer is implemented by response writers that track whether the
// status line was already sent.
type Committer interface {
	Committed() bool
}

// Options of the translator.
type Options struct {
	// Log receives one record per translated fault. Defaults to the
	// application log.
	Log logging.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Translator is the terminal error handler of the gateway.
type Translator struct {
	log logging.Logger
	now func() time.Time
}

func NewTranslator(o Options) *Translator {
	if o.Log == nil {
		o.Log = logging.New()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Translator{log: o.Log, now: o.Now}
}

func committed(w http.ResponseWriter) bool {
	c, ok := w.(Committer)
	return ok && c.Committed()
}

// Translate writes the envelope of err to w. When the response was
// already committed or the client is gone, nothing is written and err
// is returned unchanged. Otherwise it returns nil.
func (t *Translator) Translate(w http.ResponseWriter, r *http.Request, requestID string, err error) error {
	if err == nil {
		return nil
	}

	if committed(w) {
		t.log.WithFields(map[string]any{
			"event":      "response_committed",
			"path":       r.URL.Path,
			"request_id": requestID,
		}).Warnf("Response already committed, fault not translated: %v", err)
		return err
	}

	if r.Context().Err() != nil {
		t.log.WithFields(map[string]any{
			"event":      "client_gone",
			"path":       r.URL.Path,
			"request_id": requestID,
		}).Debugf("Client canceled the request: %v", err)
		return err
	}

	f := Classify(err)
	t.logFault(f, r.URL.Path, requestID)

	now := t.now()
	h := w.Header()
	switch f.Kind {
	case KindQuotaExceeded:
		if f.Quota != nil {
			ratelimit.SetHeaders(h, f.Quota.Limit, f.Quota.Remaining, f.Quota.ResetAt)
			h.Set(ratelimit.RetryAfterHeader, strconv.FormatInt(f.Quota.RetryAfterSeconds(), 10))
		}
	case KindServiceUnavailable:
		h.Set(FallbackHeader, "true")
	case KindUnauthorized, KindAccessDenied, KindBadGateway, KindGatewayTimeout, KindGateway, KindInternal:
	}

	b, jerr := json.Marshal(NewEnvelope(f, r.URL.Path, requestID, now))
	if jerr != nil {
		t.log.Errorf("Failed to serialize error envelope: %v", jerr)
		w.WriteHeader(f.Status)
		return nil
	}

	h.Set("Content-Type", contentTypeJSON)
	h.Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(f.Status)
	if _, werr := w.Write(b); werr != nil {
		t.log.Debugf("Failed to write error envelope: %v", werr)
	}

	return nil
}

func (t *Translator) logFault(f *Fault, path, requestID string) {
	fields := map[string]any{
		"path":       path,
		"request_id": requestID,
		"status":     f.Status,
		"error_code": f.Code,
	}

	switch f.Kind {
	case KindQuotaExceeded:
		fields["event"] = "rate_limit_exceeded"
		if f.Quota != nil {
			fields["limit"] = f.Quota.Limit
			fields["retry_after_seconds"] = f.Quota.RetryAfterSeconds()
		}
		t.log.WithFields(fields).Warn("Rate limit exceeded")
	case KindUnauthorized:
		fields["event"] = "authentication_failed"
		t.log.WithFields(withCause(fields, f)).Warn("Authentication failed")
	case KindAccessDenied:
		fields["event"] = "access_denied"
		t.log.WithFields(fields).Warn("Access denied")
	case KindServiceUnavailable:
		fields["event"] = "service_unavailable"
		fields["service"] = f.Service
		t.log.WithFields(fields).Warn("Service unavailable")
	case KindBadGateway:
		fields["event"] = "bad_gateway"
		t.log.WithFields(withCause(fields, f)).Error("Downstream unreachable")
	case KindGatewayTimeout:
		fields["event"] = "gateway_timeout"
		t.log.WithFields(withCause(fields, f)).Error("Downstream timeout")
	case KindGateway:
		fields["event"] = "gateway_exception"
		t.log.WithFields(fields).Warn("Gateway exception")
	case KindInternal:
		fields["event"] = "internal_error"
		t.log.WithFields(withCause(fields, f)).Error("Unhandled internal error")
	}
}

func withCause(fields map[string]any, f *Fault) map[string]any {
	if f.Cause != nil {
		fields["error_message"] = f.Cause.Error()
	}
	return fields
}

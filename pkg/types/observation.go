package types

import "time"

// =============================================================================
// PROBE OBSERVATION
// =============================================================================

// Observation is the outcome of one probe attempt against a task's URL.
// Exactly one of HTTP or Transport is set — never both, never neither.
// This is a tagged variant by construction rather than a loosely-typed
// payload: the evaluator switches on which field is non-nil instead of
// inspecting a status code sentinel.
type Observation struct {
	TaskName  string    `json:"task_name"`
	Timestamp time.Time `json:"timestamp"`

	HTTP      *HTTPResponse     `json:"http,omitempty"`
	Transport *TransportFailure `json:"transport,omitempty"`
}

// HTTPResponse is a completed HTTP round trip.
type HTTPResponse struct {
	StatusCode   int               `json:"status_code"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         []byte            `json:"-"`
	BodyTruncated bool             `json:"body_truncated,omitempty"`
	RespTimeMs   int64             `json:"resp_time_ms"`

	// TLS info, populated only for https:// targets.
	TLSCertExpiry *time.Time `json:"tls_cert_expiry,omitempty"`
	TLSVerifyErr  string     `json:"tls_verify_err,omitempty"`
}

// TransportFailure is a probe that never got an HTTP response: DNS failure,
// connection refused, timeout, TLS handshake failure before a response line.
type TransportFailure struct {
	Reason     string `json:"reason"`
	RespTimeMs int64  `json:"resp_time_ms"`
}

// IsTransportFailure reports whether the observation failed before any HTTP
// response was received.
func (o *Observation) IsTransportFailure() bool {
	return o.Transport != nil
}

// RespTimeMs returns the observed response time regardless of outcome kind.
func (o *Observation) RespTimeMs() int64 {
	if o.HTTP != nil {
		return o.HTTP.RespTimeMs
	}
	if o.Transport != nil {
		return o.Transport.RespTimeMs
	}
	return 0
}

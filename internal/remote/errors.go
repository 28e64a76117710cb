package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from an upstream system.
type APIError struct {
	System     string
	Endpoint   string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: %s (%d %s)", e.System, e.Endpoint, e.StatusCode, reasonForStatus(e.StatusCode))
}

func reasonForStatus(code int) string {
	switch {
	case code == http.StatusUnauthorized:
		return "authentication failed"
	case code == http.StatusForbidden:
		return "permission denied"
	case code == http.StatusNotFound:
		return "not found"
	case code == http.StatusTooManyRequests:
		return "rate limited"
	case code >= 500:
		return "upstream unavailable"
	default:
		return http.StatusText(code)
	}
}

// IsNotFound reports whether err is an upstream 404. A 404 is a valid
// non-error outcome for deletions and signals expected churn during
// enrollment sync.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// TransportError is a network-level failure (timeout, connection refused).
// It is retryable and does not classify as an API failure.
type TransportError struct {
	System   string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %s: %v", e.System, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseError is a malformed or non-JSON response body. Raw carries a
// truncated copy of the payload for diagnosis.
type ParseError struct {
	System   string
	Endpoint string
	Raw      string
	Err      error
}

const parseErrorRawLimit = 256

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s parse error: %s: %v (body: %q)", e.System, e.Endpoint, e.Err, e.Raw)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(system, endpoint string, body []byte, err error) *ParseError {
	raw := string(body)
	if len(raw) > parseErrorRawLimit {
		raw = raw[:parseErrorRawLimit]
	}
	return &ParseError{System: system, Endpoint: endpoint, Raw: raw, Err: err}
}

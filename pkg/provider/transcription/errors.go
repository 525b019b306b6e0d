package transcription

import (
	"errors"
	"fmt"
	"net"
)

// APIError is a non-2xx response from the transcription service.
type APIError struct {
	// StatusCode is the HTTP status returned by the service.
	StatusCode int

	// Body is the (truncated) response body for diagnostics.
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transcription: service returned %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying: timeouts,
// connection errors, 5xx, and 429. Auth failures (401) and unsupported
// language (400) are permanent.
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsTransient classifies err for retry purposes. Network-level errors
// (timeouts, resets) are transient; API errors delegate to [APIError.Transient].
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Anything else is a transport-level failure (connection refused, EOF
	// mid-body): the request never produced a service verdict, so retrying
	// an idempotent call is safe.
	return true
}

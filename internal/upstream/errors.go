package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned when the upstream catalog has no matching object.
// Not retryable: it surfaces as a validation failure for set lookups or a
// per-record skip during streaming.
var ErrNotFound = errors.New("upstream object not found")

// APIError represents a non-2xx response from the upstream catalog API.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("upstream api error %d (%s): %s", e.StatusCode, e.Code, e.Detail)
}

// IsRetryable reports whether an upstream call error is worth retrying.
// Rate limiting and server errors are retryable; not-found and other client
// errors are not. Transport-level errors (no APIError) count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

package panel

import (
	"errors"
	"fmt"
)

// Common errors returned by the panel client.
var (
	// ErrServerUnavailable is returned when the panel server is not reachable.
	ErrServerUnavailable = errors.New("panel server unavailable")

	// ErrTimeout is returned when a request times out.
	ErrTimeout = errors.New("request timed out")

	// ErrDecode is returned when a response body cannot be decoded.
	ErrDecode = errors.New("decode failed")

	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected status")

	// ErrMissingRoute is returned when the surface does not advertise a route.
	ErrMissingRoute = errors.New("route not advertised by surface")

	// ErrInvalidBaseURL is returned by SetBaseURL for unusable URLs.
	ErrInvalidBaseURL = errors.New("invalid base URL")
)

// APIError wraps errors from the panel API with additional context.
type APIError struct {
	Operation  string // The route that failed (e.g., "autopilot/run")
	StatusCode int    // HTTP status code (0 if not HTTP error)
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("panel: %s failed (HTTP %d): %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("panel: %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new APIError.
func NewAPIError(operation string, statusCode int, err error) *APIError {
	return &APIError{
		Operation:  operation,
		StatusCode: statusCode,
		Err:        err,
	}
}

// IsServerUnavailable returns true if the error indicates the server is unavailable.
func IsServerUnavailable(err error) bool {
	return errors.Is(err, ErrServerUnavailable)
}

// IsTimeout returns true if the error indicates a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsTransport returns true for any error produced by a panel call.
func IsTransport(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

package vision

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoCredentials is returned when neither an API key nor a token source is configured.
	ErrNoCredentials = errors.New("vision: API key or token source required")

	// ErrNoModel is returned when the model name is empty.
	ErrNoModel = errors.New("vision: model required")
)

// HTTPError is a non-2xx reply from the endpoint.
type HTTPError struct {
	StatusCode int

	// Message is the API's error.message, if the body carried one.
	Message string

	// Body is the raw response body, truncated.
	Body string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("vision: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("vision: HTTP %d", e.StatusCode)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true for HTTP 401 and 403.
func (e *HTTPError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// ParseError means the 2xx body was not a JSON object.
type ParseError struct {
	Err  error
	Body string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("vision: parse response: %v", e.Err)
}

// Unwrap returns the underlying decode error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// truncate shortens a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

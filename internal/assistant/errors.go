// ABOUTME: Error taxonomy for assistant backend calls
// ABOUTME: Separates transport failures from status errors and flags rate limiting

package assistant

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a call that never produced a response (network, timeout).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("assistant %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports an error status returned by the backend.
type StatusError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("assistant %s: status %d (%s): %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("assistant %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// RateLimited reports whether the backend asked the caller to slow down.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRateLimited reports whether err carries a rate-limited StatusError.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.RateLimited()
}

package failover

import (
	"errors"
	"fmt"

	"github.com/openrelay/openrelay/internal/provider"
)

// IsRetryable reports whether a completion error is worth retrying on a
// fallback model: rate limits, overload, and transient server errors.
// Anything else (bad request, auth failure) fails the same way everywhere,
// so retrying just burns quota.
func IsRetryable(err error) bool {
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		// Transport-level errors (timeouts, refused connections) have no
		// status; another provider may still be reachable.
		return true
	}
	switch apiErr.Status {
	case 429, 500, 502, 503, 529:
		return true
	}
	return false
}

// AllExhaustedError reports that every candidate model failed.
type AllExhaustedError struct {
	Attempted []string
	Last      error
}

func (e *AllExhaustedError) Error() string {
	return fmt.Sprintf("all models exhausted (attempted %v): %v", e.Attempted, e.Last)
}

func (e *AllExhaustedError) Unwrap() error {
	return e.Last
}

package provider

import "fmt"

// APIError is a non-200 response from a completion backend. The status
// code drives failover decisions upstream.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.Status, e.Message)
}

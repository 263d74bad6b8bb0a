// Package failover wraps the provider registry with model fallback: a
// completion is tried on the primary model, then on each configured
// fallback while the failure looks transient.
package failover

import (
	"context"
	"log"

	"github.com/openrelay/openrelay/internal/provider"
)

type Client struct {
	registry  *provider.Registry
	primary   provider.ModelRef
	fallbacks []provider.ModelRef
}

func NewClient(registry *provider.Registry, primary provider.ModelRef, fallbacks []provider.ModelRef) *Client {
	return &Client{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
	}
}

// Complete tries each candidate model in order. The request's Model field
// is overwritten per attempt; a non-retryable error aborts immediately.
func (c *Client) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	candidates := append([]provider.ModelRef{c.primary}, c.fallbacks...)
	attempted := make([]string, 0, len(candidates))
	var lastErr error

	for _, ref := range candidates {
		if contains(attempted, ref.String()) {
			continue
		}
		attempted = append(attempted, ref.String())

		p, err := c.registry.GetForModel(ref)
		if err != nil {
			lastErr = err
			continue
		}

		attempt := *req
		attempt.Model = ref.Model()
		resp, err := p.Complete(ctx, &attempt)
		if err == nil {
			return resp, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		log.Printf("failover: %s failed, trying next candidate: %v", ref, err)
		lastErr = err
	}

	return nil, &AllExhaustedError{Attempted: attempted, Last: lastErr}
}

func contains(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}

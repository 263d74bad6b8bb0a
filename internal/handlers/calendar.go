package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/openrelay/openrelay/internal/requester"
)

// Calendar talks to a calendar web app endpoint using the same action
// envelope as the sheets upstream.
type Calendar struct {
	client  *http.Client
	resolve EndpointResolver
}

func NewCalendar(client *http.Client, resolve EndpointResolver) *Calendar {
	return &Calendar{client: client, resolve: resolve}
}

func (c *Calendar) endpoint(ctx context.Context) (string, error) {
	ep := c.resolve(requester.ID(ctx)).Calendar
	if ep == "" {
		return "", fmt.Errorf("no calendar endpoint configured for requester %q", requester.ID(ctx))
	}
	return ep, nil
}

// ListEvents returns events, optionally bounded by start and end
// timestamps.
func (c *Calendar) ListEvents(ctx context.Context, args map[string]any) (any, error) {
	ep, err := c.endpoint(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{"action": {"listEvents"}}
	if start := stringArg(args, "start"); start != "" {
		params.Set("start", start)
	}
	if end := stringArg(args, "end"); end != "" {
		params.Set("end", end)
	}
	return getJSON(ctx, c.client, ep, params)
}

// CreateEvents adds events. The events argument is a JSON array of event
// objects; string values are decoded first.
func (c *Calendar) CreateEvents(ctx context.Context, args map[string]any) (any, error) {
	ep, err := c.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	events, ok := args["events"]
	if !ok {
		return nil, fmt.Errorf("create_events: missing events argument")
	}
	if raw, isString := events.(string); isString {
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("create_events: events is not valid JSON: %w", err)
		}
		events = decoded
	}

	payload := map[string]any{
		"action": "createEvents",
		"data":   map[string]any{"events": events},
	}
	return postJSON(ctx, c.client, ep, payload)
}

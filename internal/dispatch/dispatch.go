// Package dispatch validates extracted calls against the capability
// registry, executes handlers, and records the call/result pair on the
// session transcript. A dispatch can fail; a dispatch can never crash a
// session.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/openrelay/openrelay/internal/cache"
	"github.com/openrelay/openrelay/internal/capability"
	"github.com/openrelay/openrelay/internal/extract"
	"github.com/openrelay/openrelay/internal/metrics"
	"github.com/openrelay/openrelay/internal/requester"
	"github.com/openrelay/openrelay/internal/session"
)

// Result is the outcome of dispatching one call: a success payload or a
// failure description, never both.
type Result struct {
	CallID   string
	Platform string
	Function string
	Payload  any
	Err      string
}

func (r Result) Failed() bool { return r.Err != "" }

type Dispatcher struct {
	registry *capability.Registry
	guard    *Guard
	cache    *cache.Cache // nil disables result caching
}

func New(registry *capability.Registry) *Dispatcher {
	return NewWithCache(registry, nil)
}

func NewWithCache(registry *capability.Registry, c *cache.Cache) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		guard:    NewGuard(),
		cache:    c,
	}
}

// Execute runs one call. It always appends exactly two transcript entries:
// the call replay as sent, then the rendered result, success or failure.
// The second return value reports whether the call produced output the
// model has not seen yet, meaning the loop owes it another turn.
func (d *Dispatcher) Execute(ctx context.Context, call extract.Call, tr *session.Transcript) (Result, bool) {
	tr.Append(session.RenderCall(call.Platform, call.Function, namedValues(call.Params)))

	result := Result{
		CallID:   call.ID,
		Platform: call.Platform,
		Function: call.Function,
	}

	desc, err := d.registry.Resolve(call.Platform, call.Function)
	if err != nil {
		result.Err = err.Error()
		tr.Append(session.RenderFailure(call.Platform, call.Function, result.Err))
		status := "error"
		if errors.Is(err, capability.ErrNotFound) {
			status = "not_found"
		}
		metrics.DispatchTotal.WithLabelValues(call.Platform, call.Function, status).Inc()
		return result, false
	}

	args := argsMap(call.Params)

	var cacheKey string
	if desc.Function.Cacheable && d.cache != nil {
		cacheKey = cache.Key(requester.ID(ctx), call.Platform, call.Function, args)
		if payloadJSON, ok := d.cache.Get(ctx, cacheKey); ok {
			metrics.CacheHits.Inc()
			result.Payload = decodePayload(payloadJSON)
			d.appendResult(tr, call, result.Payload)
			metrics.DispatchTotal.WithLabelValues(call.Platform, call.Function, "cached").Inc()
			return result, desc.Function.ProducesOutput
		}
		metrics.CacheMisses.Inc()
	}

	start := time.Now()
	payload, err := d.guard.Invoke(ctx, desc.Handler, args)
	metrics.DispatchDuration.WithLabelValues(call.Platform, call.Function).Observe(time.Since(start).Seconds())

	if err != nil {
		result.Err = err.Error()
		tr.Append(session.RenderFailure(call.Platform, call.Function, d.guard.Sanitize(result.Err)))
		metrics.DispatchTotal.WithLabelValues(call.Platform, call.Function, "error").Inc()
		log.Printf("dispatch: %s: %v", call.Target(), err)
		return result, false
	}

	result.Payload = payload
	d.appendResult(tr, call, payload)
	metrics.DispatchTotal.WithLabelValues(call.Platform, call.Function, "ok").Inc()

	if cacheKey != "" {
		if data, err := json.Marshal(payload); err == nil {
			d.cache.Set(ctx, cacheKey, string(data))
		}
	}

	return result, desc.Function.ProducesOutput
}

func (d *Dispatcher) appendResult(tr *session.Transcript, call extract.Call, payload any) {
	entry := session.RenderResult(call.Platform, call.Function, payload)
	entry.Content = d.guard.Sanitize(entry.Content)
	tr.Append(entry)
}

func decodePayload(payloadJSON string) any {
	var v any
	if err := json.Unmarshal([]byte(payloadJSON), &v); err != nil {
		return payloadJSON
	}
	return v
}

func namedValues(params []extract.Param) []session.NamedValue {
	out := make([]session.NamedValue, len(params))
	for i, p := range params {
		out[i] = session.NamedValue{Name: p.Name, Value: p.Value}
	}
	return out
}

func argsMap(params []extract.Param) map[string]any {
	args := make(map[string]any, len(params))
	for _, p := range params {
		args[p.Name] = p.Value
	}
	return args
}

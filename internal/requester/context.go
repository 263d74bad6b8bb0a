package requester

import "context"

type contextKey struct{}

// WithID returns a context carrying the requester ID (the end user a
// session runs on behalf of). Use ID(ctx) to retrieve it. When a request
// has no requester, do not call WithID.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// ID returns the requester ID from the context, or empty string if not set.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v := ctx.Value(contextKey{})
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

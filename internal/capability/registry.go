package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Resolve when no descriptor matches the
// requested (platform, function) pair.
var ErrNotFound = errors.New("capability not found")

// Handler executes one capability function. Args are the call's parameters
// by name; values are strings or decoded JSON. The ctx carries the
// requester identity for handlers that select per-requester endpoints.
type Handler interface {
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

func (f HandlerFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// Descriptor is one resolved registry entry.
type Descriptor struct {
	Platform string
	Function FunctionSpec
	Handler  Handler
}

// Registry binds descriptor document entries to handlers. Bind happens at
// startup; Resolve is the read-only hot path.
type Registry struct {
	mu       sync.RWMutex
	doc      *Document
	handlers map[string]Handler
}

func NewRegistry(doc *Document) *Registry {
	return &Registry{
		doc:      doc,
		handlers: make(map[string]Handler),
	}
}

// Bind attaches a handler to a function declared in the descriptor
// document. Binding an undeclared or already-bound function is an error.
func (r *Registry) Bind(platform, function string, h Handler) error {
	if platform == PlatformIO {
		return fmt.Errorf("platform %q is reserved for control signals", PlatformIO)
	}
	if _, ok := r.doc.Find(platform, function); !ok {
		return fmt.Errorf("capability %s.%s not declared in descriptor document", platform, function)
	}
	key := platform + "." + function

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("capability %s already bound", key)
	}
	r.handlers[key] = h
	return nil
}

// Resolve returns the descriptor for (platform, function), or ErrNotFound.
// A function declared in the document but never bound is also not found:
// the model must not be able to invoke a capability with no handler.
func (r *Registry) Resolve(platform, function string) (Descriptor, error) {
	spec, ok := r.doc.Find(platform, function)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s.%s", ErrNotFound, platform, function)
	}

	r.mu.RLock()
	h, ok := r.handlers[platform+"."+function]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s.%s has no handler", ErrNotFound, platform, function)
	}

	return Descriptor{Platform: platform, Function: spec, Handler: h}, nil
}

// Document returns the descriptor document the registry was built from.
func (r *Registry) Document() *Document {
	return r.doc
}

package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openrelay/openrelay/internal/capability"
)

func TestGuardInvokePassesThrough(t *testing.T) {
	g := NewGuard()
	payload, err := g.Invoke(context.Background(), capability.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
		return args["x"], nil
	}), map[string]any{"x": 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload != 42 {
		t.Errorf("payload = %v", payload)
	}
}

func TestGuardInvokePropagatesError(t *testing.T) {
	g := NewGuard()
	want := errors.New("nope")
	_, err := g.Invoke(context.Background(), capability.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
		return nil, want
	}), nil)
	if !errors.Is(err, want) {
		t.Errorf("err = %v", err)
	}
}

func TestGuardInvokeRecoversPanic(t *testing.T) {
	g := NewGuard()
	_, err := g.Invoke(context.Background(), capability.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
		panic("exploded")
	}), nil)
	if err == nil || !strings.Contains(err.Error(), "exploded") {
		t.Errorf("err = %v", err)
	}
}

func TestGuardInvokeTimeout(t *testing.T) {
	g := NewGuard()
	g.Timeout = 20 * time.Millisecond
	_, err := g.Invoke(context.Background(), capability.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), nil)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v", err)
	}
}

func TestSanitizeStarsOutDirectives(t *testing.T) {
	g := NewGuard()
	got := g.Sanitize(`before <function_call> mid </function_call> after <call:{"x":1}>`)
	for _, forbidden := range []string{"<function_call>", "</function_call>", "<call:"} {
		if strings.Contains(got, forbidden) {
			t.Errorf("sanitized output still contains %q: %s", forbidden, got)
		}
	}
	if !strings.Contains(got, "before") || !strings.Contains(got, "after") {
		t.Errorf("surrounding text lost: %s", got)
	}
}

func TestSanitizeTruncatesOversizedResults(t *testing.T) {
	g := NewGuard()
	g.MaxResultBytes = 16
	got := g.Sanitize(strings.Repeat("a", 100))
	if !strings.Contains(got, "truncated") {
		t.Errorf("expected truncation marker: %s", got)
	}
	if len(got) > 16+len("\n[truncated: result exceeded size limit]") {
		t.Errorf("result not capped: %d bytes", len(got))
	}
}

package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/openrelay/openrelay/internal/capability"
)

const (
	DefaultMaxResultBytes = 64 * 1024 // 64KB
	DefaultTimeout        = 30 * time.Second
)

// Directive-looking patterns are starred out of capability results so
// upstream data can never smuggle calls back into the loop. Results are
// data, not instructions.
var defaultForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`</function_call>`),
	regexp.MustCompile(`<call:`),
}

type Guard struct {
	MaxResultBytes    int
	Timeout           time.Duration
	ForbiddenPatterns []*regexp.Regexp
}

func NewGuard() *Guard {
	return &Guard{
		MaxResultBytes:    DefaultMaxResultBytes,
		Timeout:           DefaultTimeout,
		ForbiddenPatterns: defaultForbiddenPatterns,
	}
}

// Invoke runs a handler with a timeout, converting panics into errors.
// Handler failures must surface as failure results, never crash a session.
func (g *Guard) Invoke(ctx context.Context, h capability.Handler, args map[string]any) (any, error) {
	callCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	type outcome struct {
		payload any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		payload, err := h.Invoke(callCtx, args)
		done <- outcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		return out.payload, out.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("handler timed out after %s", g.Timeout)
	}
}

// Sanitize caps result size and stars out directive-looking patterns.
func (g *Guard) Sanitize(s string) string {
	if s == "" {
		return s
	}

	if g.MaxResultBytes > 0 && len(s) > g.MaxResultBytes {
		s = s[:g.MaxResultBytes] + "\n[truncated: result exceeded size limit]"
	}

	for _, pat := range g.ForbiddenPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}

	return s
}

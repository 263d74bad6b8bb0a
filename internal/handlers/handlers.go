// Package handlers implements the built-in capability handlers: sheet and
// calendar access through per-requester web app endpoints, the clock, and
// the LED test bench. Handlers return decoded JSON payloads; rendering is
// the dispatcher's job.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/openrelay/openrelay/internal/capability"
	"github.com/openrelay/openrelay/internal/config"
)

const defaultHTTPTimeout = 30 * time.Second

// EndpointResolver maps a requester ID to its upstream endpoints.
type EndpointResolver func(requesterID string) config.Endpoints

// BindAll binds every built-in handler whose (platform, function) pair is
// declared in the registry's descriptor document. Undeclared builtins are
// skipped so a deployment can expose a subset.
func BindAll(reg *capability.Registry, resolve EndpointResolver) error {
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	sheets := NewSheets(httpClient, resolve)
	calendar := NewCalendar(httpClient, resolve)

	builtins := []struct {
		platform string
		function string
		handler  capability.Handler
	}{
		{"sheets", "list_sheets", capability.HandlerFunc(sheets.ListSheets)},
		{"sheets", "read_sheet", capability.HandlerFunc(sheets.ReadSheet)},
		{"sheets", "write_cells", capability.HandlerFunc(sheets.WriteCells)},
		{"calendar", "list_events", capability.HandlerFunc(calendar.ListEvents)},
		{"calendar", "create_events", capability.HandlerFunc(calendar.CreateEvents)},
		{"clock", "current_time", capability.HandlerFunc(CurrentTime)},
		{"bench", "led", capability.HandlerFunc(LED)},
	}

	doc := reg.Document()
	for _, b := range builtins {
		if _, ok := doc.Find(b.platform, b.function); !ok {
			continue
		}
		if err := reg.Bind(b.platform, b.function, b.handler); err != nil {
			return fmt.Errorf("binding %s.%s: %w", b.platform, b.function, err)
		}
	}
	return nil
}

// stringArg returns args[name] as a string, tolerating absent values.
func stringArg(args map[string]any, name string) string {
	v, ok := args[name]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	return s
}

package handlers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/openrelay/openrelay/internal/capability"
	"github.com/openrelay/openrelay/internal/config"
)

func TestCurrentTime(t *testing.T) {
	clockNow = func() time.Time {
		return time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC)
	}
	defer func() { clockNow = time.Now }()

	payload, err := CurrentTime(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := payload.(map[string]any)
	if m["datetime"] != "Sun, 01 Mar 2026 09:30:00" {
		t.Errorf("datetime = %v", m["datetime"])
	}
	if m["timezone"] != "UTC" {
		t.Errorf("timezone = %v", m["timezone"])
	}
}

func TestLED(t *testing.T) {
	payload, err := LED(context.Background(), map[string]any{"duration": "5s", "color": "00FF00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := payload.(string)
	if !strings.Contains(s, "00FF00") || !strings.Contains(s, "5s") {
		t.Errorf("payload = %s", s)
	}
}

func TestLEDDefaultColor(t *testing.T) {
	payload, err := LED(context.Background(), map[string]any{"duration": "1s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(payload.(string), defaultLEDColor) {
		t.Errorf("payload = %v", payload)
	}
}

func TestLEDRequiresDuration(t *testing.T) {
	if _, err := LED(context.Background(), nil); err == nil {
		t.Fatal("expected error for missing duration")
	}
}

func TestBindAllSkipsUndeclared(t *testing.T) {
	doc, err := capability.ParseDocument([]byte(`
platforms:
  - name: sheets
    functions:
      - name: list_sheets
        produces_output: true
  - name: clock
    functions:
      - name: current_time
        produces_output: true
`))
	if err != nil {
		t.Fatal(err)
	}
	reg := capability.NewRegistry(doc)

	if err := BindAll(reg, fixedResolver(config.Endpoints{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := reg.Resolve("sheets", "list_sheets"); err != nil {
		t.Errorf("list_sheets not bound: %v", err)
	}
	if _, err := reg.Resolve("clock", "current_time"); err != nil {
		t.Errorf("current_time not bound: %v", err)
	}
	if _, err := reg.Resolve("bench", "led"); err == nil {
		t.Error("undeclared bench.led should not resolve")
	}
}

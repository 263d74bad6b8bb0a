package handlers

import (
	"context"
	"time"
)

// clockNow is overridable in tests.
var clockNow = time.Now

// CurrentTime reports the current date, time and timezone.
func CurrentTime(ctx context.Context, args map[string]any) (any, error) {
	now := clockNow()
	zone, offset := now.Zone()
	return map[string]any{
		"datetime":       now.Format("Mon, 02 Jan 2006 15:04:05"),
		"timezone":       zone,
		"offset_seconds": offset,
		"unix":           now.Unix(),
	}, nil
}

package handlers

import (
	"context"
	"fmt"
	"log"
)

const defaultLEDColor = "FF0000"

// LED is the hardware test bench stand-in: it logs the requested blink
// instead of driving a device.
func LED(ctx context.Context, args map[string]any) (any, error) {
	duration := stringArg(args, "duration")
	if duration == "" {
		return nil, fmt.Errorf("led: missing duration argument")
	}
	color := stringArg(args, "color")
	if color == "" {
		color = defaultLEDColor
	}

	log.Printf("bench: LED of color %s for duration %s", color, duration)
	return fmt.Sprintf("LED %s lit for %s", color, duration), nil
}

// Package notify forwards system events to an external broker and accepts
// the remote emergency-stop input.
package notify

import (
	"context"

	"cat_feeder/internal/models"
)

// Publisher sends a system event somewhere outside the process.
type Publisher interface {
	Publish(ctx context.Context, e models.SystemEvent) error
	Close()
}

// Nop drops every event. Used when MQTT is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, models.SystemEvent) error { return nil }
func (Nop) Close()                                            {}

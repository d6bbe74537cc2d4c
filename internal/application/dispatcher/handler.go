package dispatcher

import (
	"context"

	"github.com/garyjia/club-treasury/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging. Detached handlers run
// in the background.
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
	Detached    bool
}

// AllEvents is the pseudo type under which SubscribeAll handlers are listed.
const AllEvents event.Type = "*"

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
	"github.com/garyjia/club-treasury/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SystemActor is recorded when no member triggered the change, e.g. a CLI run
const SystemActor = "system"

func utcNow() time.Time {
	return time.Now().UTC()
}

// authorize asks the gate once and converts a refusal into a ForbiddenError
func authorize(ctx context.Context, gate port.PermissionGate, actor, capability string) error {
	if actor == "" {
		return &domain.ValidationError{Field: "actor", Reason: "is required"}
	}
	ok, err := gate.HasCapability(ctx, actor, capability)
	if err != nil {
		return fmt.Errorf("check capability %s: %w", capability, err)
	}
	if !ok {
		return &domain.ForbiddenError{Actor: actor, Capability: capability}
	}
	return nil
}

// publish hands committed events to the publisher. Failures are logged only:
// the change they describe is already durable.
func publish(ctx context.Context, publisher port.EventPublisher, logger Logger, events ...*event.Event) {
	if publisher == nil {
		return
	}
	for _, evt := range events {
		if evt == nil {
			continue
		}
		if err := publisher.Dispatch(ctx, evt); err != nil {
			logger.Error("Failed to publish event",
				"event_type", evt.Type,
				"entity_id", evt.EntityID,
				"error", err,
			)
		}
	}
}

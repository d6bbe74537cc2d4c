package port

import (
	"context"

	"github.com/garyjia/club-treasury/internal/domain/event"
)

// PermissionGate answers capability questions for an actor
type PermissionGate interface {
	HasCapability(ctx context.Context, actor string, capability string) (bool, error)
}

// Directory resolves members for notifications
type Directory interface {
	// MembersWithCapability lists actor ids holding the capability
	MembersWithCapability(ctx context.Context, capability string) ([]string, error)

	// LarkOpenID returns the member's Lark open id, empty when unknown
	LarkOpenID(ctx context.Context, actor string) string
}

// EventPublisher receives domain events after their changes are committed
type EventPublisher interface {
	Dispatch(ctx context.Context, evt *event.Event) error
}

// MessageSender delivers a text message to a Lark user
type MessageSender interface {
	SendText(ctx context.Context, openID string, text string) error
}

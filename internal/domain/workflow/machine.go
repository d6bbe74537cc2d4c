package workflow

import "context"

// StateMachine resolves the transitions of one claim from its current state
type StateMachine interface {
	// Peek resolves the target state of a trigger. Guarded transitions are
	// evaluated in registration order; the first passing guard wins.
	Peek(ctx context.Context, trigger Trigger) (State, error)
}

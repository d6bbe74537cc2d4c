package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/club-treasury/internal/domain/event"
)

// Dispatcher fans domain events out to notification sinks
type Dispatcher interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler with a name for debugging
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers a handler that receives every event type
	SubscribeAll(name string, handler Handler)

	// SubscribeDetached registers a handler that Dispatch runs in the background,
	// detached from the caller's cancellation. Use AllEvents for every type.
	SubscribeDetached(eventType event.Type, name string, handler Handler)

	// Dispatch runs every matching inline handler synchronously and starts the
	// detached ones. Type-specific handlers run before catch-all handlers. A failing
	// inline handler does not stop the others; their failures are joined in the
	// returned error. Detached failures are only logged.
	Dispatch(ctx context.Context, evt *event.Event) error

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close shuts down the dispatcher and waits for detached handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers a handler for an event type with an auto-generated name
func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.RLock()
	name := fmt.Sprintf("handler-%d", len(d.handlers[eventType]))
	d.mu.RUnlock()
	d.SubscribeNamed(eventType, name, handler)
}

// SubscribeAll registers a catch-all handler
func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	d.SubscribeNamed(AllEvents, name, handler)
}

// SubscribeNamed registers a handler with a specific name for debugging
func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.register(HandlerInfo{Name: name, EventType: eventType, Handler: handler})
}

// SubscribeDetached registers a handler run in the background by Dispatch
func (d *eventDispatcher) SubscribeDetached(eventType event.Type, name string, handler Handler) {
	d.register(HandlerInfo{Name: name, EventType: eventType, Handler: handler, Detached: true})
}

func (d *eventDispatcher) register(info HandlerInfo) {
	d.mu.Lock()
	d.handlers[info.EventType] = append(d.handlers[info.EventType], info)
	d.mu.Unlock()

	d.logInfo("Handler registered",
		"event_type", info.EventType,
		"handler_name", info.Name,
		"detached", info.Detached,
	)
}

func (d *eventDispatcher) matching(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	specific := d.handlers[eventType]
	catchAll := d.handlers[AllEvents]
	out := make([]HandlerInfo, 0, len(specific)+len(catchAll))
	out = append(out, specific...)
	return append(out, catchAll...)
}

// Dispatch runs inline handlers in order and starts the detached ones
func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	handlers := d.matching(evt.Type)
	d.logInfo("Dispatching event",
		"event_type", evt.Type,
		"event_id", evt.ID,
		"handler_count", len(handlers),
	)

	var errs []error
	for _, info := range handlers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if info.Detached {
			d.runDetached(ctx, evt, info)
			continue
		}
		if err := d.safeExecute(ctx, evt, info); err != nil {
			d.logError("Handler error",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("handler %s failed: %w", info.Name, err))
		}
	}

	return errors.Join(errs...)
}

// runDetached starts a handler in the background. Close waits for it.
func (d *eventDispatcher) runDetached(ctx context.Context, evt *event.Event, info HandlerInfo) {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.safeExecute(detached, evt, info); err != nil {
			d.logError("Detached handler error",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"error", err,
			)
		}
	}()
}

// ListHandlers returns registered handlers for an event type
func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[eventType]
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		// the handler func itself is not exposed
		result[i] = HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
			Detached:    h.Detached,
		}
	}

	return result
}

// Close shuts down the dispatcher and waits for detached handlers to complete
func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}

	d.logInfo("Closing dispatcher, waiting for detached handlers")
	d.wg.Wait()
	d.logInfo("Dispatcher closed")

	return nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.logError("Handler panic recovered",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"panic", r,
			)
		}
	}()

	return info.Handler(ctx, evt)
}

func (d *eventDispatcher) logInfo(msg string, keysAndValues ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *eventDispatcher) logError(msg string, keysAndValues ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, keysAndValues...)
	}
}

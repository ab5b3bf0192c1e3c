package eventbus

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/erlorenz/go-eventbus/envelope"
)

// Handler processes one envelope. It reports false to reject the envelope,
// and an error when it could not process it.
type Handler interface {
	Handle(ctx context.Context, e *envelope.Envelope) (bool, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e *envelope.Envelope) (bool, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, e *envelope.Envelope) (bool, error) {
	return f(ctx, e)
}

// NamedHandler is a Handler that knows which event it handles.
type NamedHandler interface {
	Handler
	EventName() string
}

// Outcome classifies a dispatch.
type Outcome int

const (
	// OutcomeHandled means the handler returned true.
	OutcomeHandled Outcome = iota
	// OutcomeRejected means the handler returned false without an error.
	OutcomeRejected
	// OutcomeFailed means the handler returned an error or panicked.
	OutcomeFailed
	// OutcomeNoHandler means nothing is registered for the event.
	OutcomeNoHandler
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHandled:
		return "handled"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	case OutcomeNoHandler:
		return "no_handler"
	}
	return "unknown"
}

// Result is the outcome of dispatching one envelope.
type Result struct {
	Event   string
	UUID    string
	Outcome Outcome
	// Err is set when Outcome is OutcomeFailed and wraps ErrHandlerFailed.
	Err error
}

// OK reports whether the handler accepted the envelope.
func (r Result) OK() bool {
	return r.Outcome == OutcomeHandled
}

// Registry maps event names to handlers. It is safe for concurrent use, but
// handlers are expected to be registered once, before the first dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds handler to event. Registering an event twice fails with
// ErrDuplicateHandler; the first handler stays in place.
func (r *Registry) Register(event string, handler Handler) error {
	if event == "" {
		return fmt.Errorf("%w: event name must not be empty", ErrInvalidArgument)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler for %q is nil", ErrInvalidArgument, event)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[event]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateHandler, event)
	}
	r.handlers[event] = handler
	return nil
}

// Add registers each handler under its own event name.
func (r *Registry) Add(handlers ...NamedHandler) error {
	for _, h := range handlers {
		if h == nil {
			return fmt.Errorf("%w: handler is nil", ErrInvalidArgument)
		}
		if err := r.Register(h.EventName(), h); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the handler for event.
func (r *Registry) Resolve(event string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[event]
	return h, ok
}

// Names returns the registered event names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.handlers))
}

// Dispatch runs the handler registered for e.Name(). A handler error or
// panic is captured in the result; Dispatch itself never fails.
func (r *Registry) Dispatch(ctx context.Context, e *envelope.Envelope) (res Result) {
	res = Result{Event: e.Name(), UUID: e.UUID()}

	h, ok := r.Resolve(e.Name())
	if !ok {
		res.Outcome = OutcomeNoHandler
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("%w: %s: panic: %v", ErrHandlerFailed, e.Name(), p)
		}
	}()

	handled, err := h.Handle(ctx, e)
	switch {
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%w: %s: %w", ErrHandlerFailed, e.Name(), err)
	case handled:
		res.Outcome = OutcomeHandled
	default:
		res.Outcome = OutcomeRejected
	}
	return res
}

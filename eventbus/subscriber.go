package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/erlorenz/go-eventbus/envelope"
	"github.com/erlorenz/go-eventbus/pubsub"
)

// State is the lifecycle state of a Subscriber.
type State int

const (
	StateIdle State = iota
	StateSubscribing
	StateListening
	StateUnsubscribing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateListening:
		return "listening"
	case StateUnsubscribing:
		return "unsubscribing"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Stats counts what a Subscriber has seen since it was created.
type Stats struct {
	// Received counts data frames, decodable or not.
	Received    uint64
	Undecodable uint64
	Handled     uint64
	Rejected    uint64
	Failed      uint64
	Unhandled   uint64
}

// Dispatched is the number of envelopes handed to the registry.
func (s Stats) Dispatched() uint64 {
	return s.Handled + s.Rejected + s.Failed + s.Unhandled
}

type counters struct {
	received, undecodable                atomic.Uint64
	handled, rejected, failed, unhandled atomic.Uint64
}

// errUnsubscribed is the cancel cause used when the channel set runs empty.
var errUnsubscribed = errors.New("eventbus: unsubscribed from all channels")

// Subscriber listens on channels and dispatches every envelope it receives
// to a Registry. Messages are processed one at a time, in arrival order.
type Subscriber struct {
	transport pubsub.Subscriber
	registry  *Registry
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	channels map[string]struct{}
	running  bool
	stop     context.CancelCauseFunc
	// done is closed when the most recently started loop has returned.
	done chan struct{}

	stats counters
}

// NewSubscriber creates a subscriber that reads from transport and
// dispatches to registry. The transport stays owned by the caller.
func NewSubscriber(transport pubsub.Subscriber, registry *Registry, opts ...Option) *Subscriber {
	o := buildOptions(opts)
	return &Subscriber{
		transport: transport,
		registry:  registry,
		logger:    o.logger,
		channels:  make(map[string]struct{}),
	}
}

// Subscribe adds channels to the subscription.
//
// If no dispatch loop is running, Subscribe runs it and blocks until ctx is
// done (returning ctx.Err()), every channel has been unsubscribed (returning
// nil), or the transport fails (returning an error wrapping ErrTransport).
// Otherwise it returns as soon as the transport has accepted the channels.
func (s *Subscriber) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return ErrNoChannelsSpecified
	}

	s.mu.Lock()
	prev := s.state
	s.state = StateSubscribing
	s.mu.Unlock()

	if err := s.transport.Subscribe(ctx, channels...); err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		s.logger.Error("Failed to subscribe", "channels", channels, "error", err)
		return fmt.Errorf("%w: subscribe: %w", ErrTransport, err)
	}

	s.mu.Lock()
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	s.state = StateListening
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Subscribed to channels", "channels", channels)
		return nil
	}
	loopCtx, stop := context.WithCancelCause(ctx)
	prevDone, done := s.done, make(chan struct{})
	s.running = true
	s.stop = stop
	s.done = done
	s.mu.Unlock()

	// A loop stopped by Unsubscribe may still be draining its last message.
	if prevDone != nil {
		select {
		case <-prevDone:
		case <-loopCtx.Done():
		}
	}

	s.logger.Info("Subscribed to channels, listening", "channels", channels)
	return s.listen(loopCtx, stop, done)
}

// Unsubscribe removes channels from the subscription, or every channel when
// none are given. Once the set is empty the dispatch loop exits.
func (s *Subscriber) Unsubscribe(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	if len(channels) == 0 {
		channels = slices.Sorted(maps.Keys(s.channels))
	}
	if len(channels) == 0 {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.state = StateUnsubscribing
	s.mu.Unlock()

	if err := s.transport.Unsubscribe(ctx, channels...); err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		s.logger.Error("Failed to unsubscribe", "channels", channels, "error", err)
		return fmt.Errorf("%w: unsubscribe: %w", ErrTransport, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range channels {
		delete(s.channels, ch)
	}
	s.logger.Info("Unsubscribed from channels", "channels", channels, "count", len(s.channels))

	switch {
	case len(s.channels) == 0:
		s.state = StateStopped
		if s.stop != nil {
			s.stop(errUnsubscribed)
		}
		s.running = false
		s.stop = nil
	case s.running:
		s.state = StateListening
	default:
		s.state = prev
	}
	return nil
}

// Channels returns the subscribed channels, sorted.
func (s *Subscriber) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.channels))
}

// State returns the current lifecycle state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the message counters.
func (s *Subscriber) Stats() Stats {
	return Stats{
		Received:    s.stats.received.Load(),
		Undecodable: s.stats.undecodable.Load(),
		Handled:     s.stats.handled.Load(),
		Rejected:    s.stats.rejected.Load(),
		Failed:      s.stats.failed.Load(),
		Unhandled:   s.stats.unhandled.Load(),
	}
}

func (s *Subscriber) listen(ctx context.Context, stop context.CancelCauseFunc, done chan struct{}) error {
	defer func() {
		stop(nil)
		s.mu.Lock()
		// Only the current loop owns the running state.
		if s.done == done && s.running {
			s.running = false
			s.stop = nil
			s.state = StateStopped
		}
		s.mu.Unlock()
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return s.loopErr(ctx)
		}

		msg, err := s.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.loopErr(ctx)
			}
			s.logger.Error("Listening stopped", "error", err)
			return fmt.Errorf("%w: receive: %w", ErrTransport, err)
		}

		if msg.Kind != pubsub.KindMessage {
			s.logger.Debug("Skipping control frame", "kind", msg.Kind, "channel", msg.Channel, "count", msg.Count)
			continue
		}
		s.handle(ctx, msg)
	}
}

// loopErr maps the end of the loop context to Subscribe's return value.
func (s *Subscriber) loopErr(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), errUnsubscribed) {
		s.logger.Info("Listening stopped, no channels left")
		return nil
	}
	s.logger.Info("Listening stopped", "error", ctx.Err())
	return ctx.Err()
}

func (s *Subscriber) handle(ctx context.Context, msg pubsub.Message) {
	s.stats.received.Add(1)

	e, err := envelope.Unmarshal(msg.Payload)
	if err != nil {
		s.stats.undecodable.Add(1)
		s.logger.Warn("Cannot decode message", "channel", msg.Channel, "bytes", len(msg.Payload), "error", err)
		return
	}

	res := s.registry.Dispatch(ctx, e)
	attrs := []any{"channel", msg.Channel, "event", res.Event, "uuid", res.UUID, "outcome", res.Outcome}

	switch res.Outcome {
	case OutcomeHandled:
		s.stats.handled.Add(1)
		s.logger.Info("Message handled", attrs...)
	case OutcomeRejected:
		s.stats.rejected.Add(1)
		s.logger.Warn("Message rejected by handler", attrs...)
	case OutcomeFailed:
		s.stats.failed.Add(1)
		s.logger.Error("Handler failed", append(attrs, "error", res.Err)...)
	case OutcomeNoHandler:
		s.stats.unhandled.Add(1)
		s.logger.Warn("No handler registered for event", attrs...)
	}
}

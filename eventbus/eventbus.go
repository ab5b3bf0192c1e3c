// Package eventbus turns a pubsub transport into a typed event bus.
//
// A Publisher batches envelopes in an outbox and publishes them to one or
// more channels. A Subscriber listens on channels, decodes every payload
// into an envelope and hands it to the Handler registered for the envelope's
// name in a Registry.
//
//	reg := eventbus.NewRegistry()
//	reg.Register("demo:event", handler)
//
//	sub := eventbus.NewSubscriber(transport, reg, eventbus.WithLogger(logger))
//	go sub.Subscribe(ctx, "demo:channel") // blocks until ctx is done
//
//	pub := eventbus.NewPublisher(transport)
//	pub.Enqueue("demo:event", map[string]any{"id": 123}).Publish(ctx, "demo:channel")
//
// Delivery is at-most-once per Publish call and at-least-once per listening
// Subscriber: every Subscriber on a channel gets its own copy.
package eventbus

import (
	"errors"
	"log/slog"

	"github.com/erlorenz/go-eventbus/envelope"
)

var (
	// ErrDuplicateHandler is returned when an event name is registered twice.
	ErrDuplicateHandler = errors.New("eventbus: handler already registered")

	// ErrHandlerFailed wraps an error returned, or a panic raised, by a handler.
	ErrHandlerFailed = errors.New("eventbus: handler failed")

	// ErrTransport wraps failures reported by the transport.
	ErrTransport = errors.New("eventbus: transport error")

	// ErrNoChannelsSpecified is reported when publishing or subscribing
	// without channels.
	ErrNoChannelsSpecified = errors.New("eventbus: no channels specified")

	// ErrNoMessagesPending is reported when publishing an empty outbox.
	ErrNoMessagesPending = errors.New("eventbus: no messages pending")
)

// Envelope errors, re-exported so callers can match every failure of this
// package with errors.Is without importing envelope.
var (
	ErrInvalidArgument = envelope.ErrInvalidArgument
	ErrEncoding        = envelope.ErrEncoding
	ErrDecoding        = envelope.ErrDecoding
)

// Option configures a Publisher or Subscriber.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger. Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

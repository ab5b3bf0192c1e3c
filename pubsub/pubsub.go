// Package pubsub provides a simple publish-subscribe transport.
//
// The package defines low-level interfaces for publishing []byte payloads to
// named channels and for receiving them back as a stream of frames. It's
// designed to be a dumb transport layer - typing, routing and handler
// dispatch live in the eventbus package.
//
// Three implementations are provided:
//   - InMemory: process-local hub, one Conn per subscriber
//   - Postgres: LISTEN/NOTIFY-based, multi-process pub/sub
//   - Redis: PUBLISH/SUBSCRIBE-based, multi-process pub/sub
//
// None of them persist messages: a payload published while nobody listens
// on its channel is dropped.
package pubsub

import (
	"context"
	"errors"
)

// Common errors.
var (
	// ErrClosed is returned when operations are attempted on a closed
	// transport. Receive returns it once the stream has ended.
	ErrClosed = errors.New("pubsub: transport is closed")

	// ErrPayloadTooLarge is returned when a backend cannot carry the payload.
	ErrPayloadTooLarge = errors.New("pubsub: payload too large")
)

// Kind tells data frames apart from the control frames a transport surfaces.
type Kind int

const (
	// KindMessage is a published payload.
	KindMessage Kind = iota
	// KindSubscribe confirms a subscription.
	KindSubscribe
	// KindUnsubscribe confirms an unsubscription.
	KindUnsubscribe
	// KindPong answers a ping.
	KindPong
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindPong:
		return "pong"
	}
	return "unknown"
}

// Message is a single frame read from a Subscriber.
type Message struct {
	Kind    Kind
	Channel string
	Payload []byte
	// Count is the number of channels still subscribed, set on
	// subscribe and unsubscribe frames.
	Count int
}

// Publisher publishes payloads to channels.
type Publisher interface {
	// Publish sends a payload to the specified channel.
	// Publishing is fire-and-forget - if no subscribers exist, the payload is dropped.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Subscriber registers interest in channels and yields what arrives on them.
type Subscriber interface {
	// Subscribe starts delivery for the channels. Subscribing twice to the
	// same channel is not an error.
	Subscribe(ctx context.Context, channels ...string) error

	// Unsubscribe stops delivery for the channels.
	Unsubscribe(ctx context.Context, channels ...string) error

	// Receive blocks until the next frame arrives, ctx is done, or the
	// subscriber is closed (ErrClosed). Frames from one channel are
	// returned in the order they were published.
	//
	// Receive must only be called from one goroutine at a time; Subscribe
	// and Unsubscribe may be called concurrently with it.
	Receive(ctx context.Context) (Message, error)

	// Close ends the stream and releases any resources.
	Close() error
}

// Transport combines Publisher and Subscriber interfaces.
// Most implementations provide both capabilities.
type Transport interface {
	Publisher
	Subscriber
}

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a transport that uses Redis PUBLISH/SUBSCRIBE.
// It works with a single node, a sentinel setup or a cluster through
// redis.UniversalClient.
//
// Publishing goes through the client's connection pool. Subscriptions share
// one dedicated connection, which go-redis re-establishes (and resubscribes)
// after network errors.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	bufferSize int
	ownsClient bool

	ps *redis.PubSub

	mu     sync.Mutex
	frames <-chan any
	closed bool
}

// RedisOption configures a Redis transport.
type RedisOption func(*Redis)

// WithPrefix prepends prefix to every channel name on the wire. Frames
// returned by Receive carry the unprefixed name.
// Default: no prefix
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithBufferSize sets how many frames are read ahead of Receive.
// Default: 100
func WithBufferSize(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// NewRedis creates a Redis transport on top of an existing client. The client
// must stay open for the lifetime of the transport and is not closed by it.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     client,
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(r)
	}

	// No channels yet, so no connection is opened here.
	r.ps = client.Subscribe(context.Background())
	return r
}

// NewRedisFromURL creates a client from a redis:// or rediss:// URL and a
// transport that owns it.
func NewRedisFromURL(url string, opts ...RedisOption) (*Redis, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	r := NewRedis(redis.NewClient(o), opts...)
	r.ownsClient = true
	return r, nil
}

// Ping checks that the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Publish sends the payload with PUBLISH.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if r.isClosed() {
		return ErrClosed
	}
	return r.client.Publish(ctx, r.prefix+channel, payload).Err()
}

// Subscribe issues SUBSCRIBE for the channels. Confirmations arrive
// through Receive as KindSubscribe frames.
func (r *Redis) Subscribe(ctx context.Context, channels ...string) error {
	if r.isClosed() {
		return ErrClosed
	}
	if len(channels) == 0 {
		return nil
	}
	return r.ps.Subscribe(ctx, r.wireNames(channels)...)
}

// Unsubscribe issues UNSUBSCRIBE for the channels, or for all of them when
// none are given.
func (r *Redis) Unsubscribe(ctx context.Context, channels ...string) error {
	if r.isClosed() {
		return ErrClosed
	}
	return r.ps.Unsubscribe(ctx, r.wireNames(channels)...)
}

// Receive returns the next subscription confirmation or message.
func (r *Redis) Receive(ctx context.Context) (Message, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Message{}, ErrClosed
	}
	if r.frames == nil {
		r.frames = r.ps.ChannelWithSubscriptions(redis.WithChannelSize(r.bufferSize))
	}
	frames := r.frames
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case v, ok := <-frames:
			if !ok {
				return Message{}, ErrClosed
			}
			switch m := v.(type) {
			case *redis.Message:
				return Message{
					Kind:    KindMessage,
					Channel: r.localName(m.Channel),
					Payload: []byte(m.Payload),
				}, nil
			case *redis.Subscription:
				kind := KindSubscribe
				if strings.HasSuffix(m.Kind, "unsubscribe") {
					kind = KindUnsubscribe
				}
				return Message{Kind: kind, Channel: r.localName(m.Channel), Count: m.Count}, nil
			case *redis.Pong:
				return Message{Kind: KindPong, Payload: []byte(m.Payload)}, nil
			}
		}
	}
}

// Close ends the subscription stream. The client is closed only if the
// transport created it.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	r.closed = true

	err := r.ps.Close()
	if r.ownsClient {
		err = errors.Join(err, r.client.Close())
	}
	return err
}

func (r *Redis) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Redis) wireNames(channels []string) []string {
	if r.prefix == "" {
		return channels
	}
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = r.prefix + ch
	}
	return out
}

func (r *Redis) localName(channel string) string {
	return strings.TrimPrefix(channel, r.prefix)
}

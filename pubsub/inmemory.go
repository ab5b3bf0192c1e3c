package pubsub

import (
	"context"
	"slices"
	"sync"
)

// InMemory is a simple in-memory hub.
// It's suitable for single-process applications, testing, and development.
// Each subscriber gets its own Conn; publishing through the hub or any Conn
// fans out to every Conn subscribed to the channel.
// Messages are not persisted and are lost if no subscribers are active.
type InMemory struct {
	mu     sync.RWMutex
	conns  map[*Conn]struct{}
	closed bool
}

// NewInMemory creates a new in-memory hub.
func NewInMemory() *InMemory {
	return &InMemory{
		conns: make(map[*Conn]struct{}),
	}
}

// Conn opens a new Transport attached to the hub. A Conn opened on a
// closed hub is already closed.
func (m *InMemory) Conn() *Conn {
	c := &Conn{
		hub:      m,
		channels: make(map[string]struct{}),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		c.closed = true
		close(c.done)
		return c
	}
	m.conns[c] = struct{}{}
	return c
}

// Publish sends a payload to every Conn subscribed to the channel.
// If no subscribers exist, the payload is dropped (fire-and-forget).
func (m *InMemory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for c := range m.conns {
		c.deliver(channel, payload)
	}
	return nil
}

// Close closes every Conn and prevents new publishes.
func (m *InMemory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	conns := m.conns
	m.conns = make(map[*Conn]struct{})
	m.mu.Unlock()

	for c := range conns {
		c.shutdown()
	}
	return nil
}

func (m *InMemory) remove(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, c)
}

// Conn is one subscriber's view of an InMemory hub. Frames are queued
// without bound, so a slow reader never causes drops or blocks publishers.
type Conn struct {
	hub *InMemory

	mu       sync.Mutex
	channels map[string]struct{}
	queue    []Message
	closed   bool
	notify   chan struct{}
	done     chan struct{}
}

// Publish publishes through the hub.
func (c *Conn) Publish(ctx context.Context, channel string, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.hub.Publish(ctx, channel, payload)
}

// Subscribe adds the channels and queues one subscribe frame per channel.
func (c *Conn) Subscribe(ctx context.Context, channels ...string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	for _, ch := range channels {
		c.channels[ch] = struct{}{}
		c.push(Message{Kind: KindSubscribe, Channel: ch, Count: len(c.channels)})
	}
	return nil
}

// Unsubscribe removes the channels, or all of them if none are given, and
// queues one unsubscribe frame per channel.
func (c *Conn) Unsubscribe(ctx context.Context, channels ...string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if len(channels) == 0 {
		for ch := range c.channels {
			channels = append(channels, ch)
		}
		slices.Sort(channels)
	}
	for _, ch := range channels {
		delete(c.channels, ch)
		c.push(Message{Kind: KindUnsubscribe, Channel: ch, Count: len(c.channels)})
	}
	return nil
}

// Receive returns the next queued frame.
func (c *Conn) Receive(ctx context.Context) (Message, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return Message{}, ErrClosed
		}
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue[0] = Message{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-c.done:
		case <-c.notify:
		}
	}
}

// Close detaches the Conn from the hub and ends its stream.
func (c *Conn) Close() error {
	if !c.shutdown() {
		return ErrClosed
	}
	c.hub.remove(c)
	return nil
}

// shutdown reports whether this call closed the Conn.
func (c *Conn) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.queue = nil
	close(c.done)
	return true
}

func (c *Conn) deliver(channel string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.channels[channel]; !ok {
		return
	}

	// Copy payload so receivers can't mutate each other's data
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	c.push(Message{Kind: KindMessage, Channel: channel, Payload: payloadCopy})
}

// push must be called with c.mu held.
func (c *Conn) push(msg Message) {
	c.queue = append(c.queue, msg)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

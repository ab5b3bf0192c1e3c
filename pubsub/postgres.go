package pubsub

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxNotifyPayload is the PostgreSQL limit for a NOTIFY payload in the
// default configuration.
const maxNotifyPayload = 8000

// Postgres is a transport that uses PostgreSQL's LISTEN/NOTIFY.
// It's suitable for multi-process applications where events need to be
// shared across different instances or services connected to the same database.
//
// Publishing uses any pooled connection. Subscriptions hold one dedicated
// connection from the pool for as long as at least one channel is listened
// to. Subscribe and Unsubscribe briefly interrupt a blocked Receive so they
// can issue LISTEN/UNLISTEN on that connection.
type Postgres struct {
	pool *pgxpool.Pool

	mu        sync.Mutex
	closed    bool
	done      chan struct{}
	channels  map[string]struct{}
	pending   []Message
	ops       int
	opsDone   chan struct{}
	interrupt context.CancelFunc

	connMu sync.Mutex // serialises use of conn
	conn   *pgxpool.Conn
}

// NewPostgres creates a new Postgres transport using the provided connection pool.
// The pool must remain open for the lifetime of the transport.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool:     pool,
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
		opsDone:  make(chan struct{}, 1),
	}
}

// Publish sends the payload with pg_notify.
func (p *Postgres) Publish(ctx context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return ErrClosed
	}

	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("%w: %d bytes exceeds the PostgreSQL NOTIFY limit of %d bytes",
			ErrPayloadTooLarge, len(payload), maxNotifyPayload)
	}

	_, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload))
	return err
}

// Subscribe issues LISTEN for each channel.
func (p *Postgres) Subscribe(ctx context.Context, channels ...string) error {
	if err := p.begin(); err != nil {
		return err
	}
	var frames []Message
	defer func() { p.end(frames) }()

	p.connMu.Lock()
	defer p.connMu.Unlock()

	if len(channels) == 0 {
		return nil
	}

	if p.conn == nil {
		conn, err := p.pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire listen connection: %w", err)
		}
		p.conn = conn
	}

	for _, ch := range channels {
		if _, err := p.conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("listen %q: %w", ch, err)
		}
		frames = append(frames, Message{Kind: KindSubscribe, Channel: ch, Count: p.track(ch, true)})
	}
	return nil
}

// Unsubscribe issues UNLISTEN for each channel, or for all of them when none
// are given. The listen connection goes back to the pool once no channel is
// left.
func (p *Postgres) Unsubscribe(ctx context.Context, channels ...string) error {
	if err := p.begin(); err != nil {
		return err
	}
	var frames []Message
	defer func() { p.end(frames) }()

	p.connMu.Lock()
	defer p.connMu.Unlock()

	if len(channels) == 0 {
		channels = p.subscribed()
	}

	for _, ch := range channels {
		if p.conn != nil {
			if _, err := p.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				return fmt.Errorf("unlisten %q: %w", ch, err)
			}
		}
		frames = append(frames, Message{Kind: KindUnsubscribe, Channel: ch, Count: p.track(ch, false)})
	}

	if p.conn != nil && len(p.subscribed()) == 0 {
		p.conn.Release()
		p.conn = nil
	}
	return nil
}

// Receive returns queued subscribe/unsubscribe frames first, then waits for
// the next notification.
func (p *Postgres) Receive(ctx context.Context) (Message, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return Message{}, ErrClosed
		}
		if len(p.pending) > 0 {
			msg := p.pending[0]
			p.pending = p.pending[1:]
			p.mu.Unlock()
			return msg, nil
		}
		if p.ops > 0 {
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return Message{}, ctx.Err()
			case <-p.done:
			case <-p.opsDone:
			}
			continue
		}
		waitCtx, cancel := context.WithCancel(ctx)
		p.interrupt = cancel
		p.mu.Unlock()

		msg, err := p.wait(waitCtx)

		p.mu.Lock()
		p.interrupt = nil
		p.mu.Unlock()
		cancel()

		switch {
		case err == nil:
			return msg, nil
		case ctx.Err() != nil:
			return Message{}, ctx.Err()
		case waitCtx.Err() != nil:
			// Interrupted by Subscribe, Unsubscribe or Close.
			continue
		}
		return Message{}, err
	}
}

// Close releases the listen connection.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	close(p.done)
	if p.interrupt != nil {
		p.interrupt()
	}
	p.pending = nil
	p.mu.Unlock()

	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Don't hand a connection that is still listening back to the pool.
	if _, err := p.conn.Exec(ctx, "UNLISTEN *"); err != nil {
		p.conn.Conn().Close(ctx)
	}
	p.conn.Release()
	p.conn = nil
	return nil
}

func (p *Postgres) wait(ctx context.Context) (Message, error) {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.conn == nil {
		<-ctx.Done()
		return Message{}, ctx.Err()
	}

	n, err := p.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{Kind: KindMessage, Channel: n.Channel, Payload: []byte(n.Payload)}, nil
}

// begin registers an operation on the listen connection and wakes a
// blocked Receive so the connection becomes free.
func (p *Postgres) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.ops++
	if p.interrupt != nil {
		p.interrupt()
	}
	return nil
}

func (p *Postgres) end(frames []Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ops--
	if !p.closed {
		p.pending = append(p.pending, frames...)
	}
	if p.ops == 0 {
		select {
		case p.opsDone <- struct{}{}:
		default:
		}
	}
}

// track adds or removes a channel and returns how many remain.
func (p *Postgres) track(channel string, add bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if add {
		p.channels[channel] = struct{}{}
	} else {
		delete(p.channels, channel)
	}
	return len(p.channels)
}

func (p *Postgres) subscribed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.channels))
	for ch := range p.channels {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

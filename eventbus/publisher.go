package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/erlorenz/go-eventbus/envelope"
	"github.com/erlorenz/go-eventbus/pubsub"
)

// Publisher collects envelopes in an outbox and publishes them in one go.
// The outbox is emptied by every Publish call whatever the outcome, so an
// envelope is attempted at most once. A Publisher is not safe for
// concurrent use.
type Publisher struct {
	transport pubsub.Publisher
	logger    *slog.Logger

	outbox []*envelope.Envelope
	// errs holds Enqueue failures until the next Publish reports them.
	errs []error
}

// NewPublisher creates a publisher that sends through transport.
func NewPublisher(transport pubsub.Publisher, opts ...Option) *Publisher {
	o := buildOptions(opts)
	return &Publisher{
		transport: transport,
		logger:    o.logger,
	}
}

// Enqueue builds an envelope and appends it to the outbox. If the envelope
// cannot be built, the error is reported by the next Publish.
func (p *Publisher) Enqueue(name string, props map[string]any) *Publisher {
	e, err := envelope.New(name, props)
	if err != nil {
		p.logger.Warn("Cannot enqueue message", "event", name, "error", err)
		p.errs = append(p.errs, err)
		return p
	}
	p.outbox = append(p.outbox, e)
	return p
}

// Add appends envelopes to the outbox. Nil envelopes are skipped.
func (p *Publisher) Add(envs ...*envelope.Envelope) *Publisher {
	for _, e := range envs {
		if e != nil {
			p.outbox = append(p.outbox, e)
		}
	}
	return p
}

// WithEnvelopes replaces the outbox.
func (p *Publisher) WithEnvelopes(envs ...*envelope.Envelope) *Publisher {
	p.reset()
	return p.Add(envs...)
}

// Pending returns the envelopes waiting in the outbox.
func (p *Publisher) Pending() []*envelope.Envelope {
	return slices.Clone(p.outbox)
}

// Len returns the number of envelopes in the outbox.
func (p *Publisher) Len() int {
	return len(p.outbox)
}

// PublishError describes one failed send.
type PublishError struct {
	// Channel is empty when the envelope failed before reaching the transport.
	Channel string
	Event   string
	UUID    string
	Err     error
}

func (e *PublishError) Error() string {
	switch {
	case e.Channel == "" && e.UUID == "":
		return fmt.Sprintf("publish: %v", e.Err)
	case e.Channel == "":
		return fmt.Sprintf("publish %s (%s): %v", e.Event, e.UUID, e.Err)
	}
	return fmt.Sprintf("publish %s (%s) to %q: %v", e.Event, e.UUID, e.Channel, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Report summarises a Publish call.
type Report struct {
	Channels []string
	// Envelopes is the size of the outbox when Publish was called.
	Envelopes int
	// Sent counts successful (channel, envelope) sends.
	Sent     int
	Failures []*PublishError
	// Warning is ErrNoChannelsSpecified or ErrNoMessagesPending when
	// Publish had nothing to do.
	Warning error
}

// Publish sends every envelope in the outbox to every channel, channel by
// channel. All sends are attempted; failures are collected in the report and
// joined into the returned error. Nothing is retried. The outbox is empty
// afterwards, including when there was nothing to do.
func (p *Publisher) Publish(ctx context.Context, channels ...string) (Report, error) {
	defer p.reset()

	rep := Report{
		Channels:  slices.Clone(channels),
		Envelopes: len(p.outbox),
	}
	for _, err := range p.errs {
		rep.Failures = append(rep.Failures, &PublishError{Err: err})
	}

	if len(channels) == 0 {
		p.logger.Warn("No channel has been specified", "dropped", len(p.outbox))
		rep.Warning = ErrNoChannelsSpecified
		return rep, joinFailures(rep.Failures)
	}
	if len(p.outbox) == 0 {
		p.logger.Warn("No message has been specified", "channels", channels)
		rep.Warning = ErrNoMessagesPending
		return rep, joinFailures(rep.Failures)
	}

	payloads := make([][]byte, len(p.outbox))
	for i, e := range p.outbox {
		b, err := e.Marshal()
		if err != nil {
			p.logger.Error("Cannot encode message", "event", e.Name(), "uuid", e.UUID(), "error", err)
			rep.Failures = append(rep.Failures, &PublishError{Event: e.Name(), UUID: e.UUID(), Err: err})
			continue
		}
		payloads[i] = b
	}

channels:
	for _, channel := range channels {
		for i, e := range p.outbox {
			if payloads[i] == nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				p.logger.Warn("Publishing interrupted", "channel", channel, "error", err)
				rep.Failures = append(rep.Failures, &PublishError{Channel: channel, Event: e.Name(), UUID: e.UUID(), Err: err})
				break channels
			}

			if err := p.transport.Publish(ctx, channel, payloads[i]); err != nil {
				p.logger.Error("Failed to publish to channel",
					"channel", channel, "event", e.Name(), "uuid", e.UUID(), "error", err)
				rep.Failures = append(rep.Failures, &PublishError{
					Channel: channel,
					Event:   e.Name(),
					UUID:    e.UUID(),
					Err:     fmt.Errorf("%w: %w", ErrTransport, err),
				})
				continue
			}

			rep.Sent++
			p.logger.Info("Successfully published to channel",
				"channel", channel, "event", e.Name(), "uuid", e.UUID(), "bytes", len(payloads[i]))
		}
	}

	return rep, joinFailures(rep.Failures)
}

func (p *Publisher) reset() {
	p.outbox = nil
	p.errs = nil
}

func joinFailures(failures []*PublishError) error {
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

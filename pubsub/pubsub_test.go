package pubsub_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/erlorenz/go-eventbus/pubsub"
)

// connector opens a new transport attached to the backend under test. Every
// transport it returns sees the same channels and is closed on cleanup.
type connector func() pubsub.Transport

// testTransport runs a common test suite against any transport implementation.
// newBackend is called once per subtest.
func testTransport(t *testing.T, newBackend func(t *testing.T) connector) {
	t.Helper()

	tests := []struct {
		name string
		test func(t *testing.T, connect connector)
	}{
		{"PublishWithNoSubscribers", testPublishWithNoSubscribers},
		{"SubscribeConfirmation", testSubscribeConfirmation},
		{"SingleSubscriber", testSingleSubscriber},
		{"MultipleSubscribers", testMultipleSubscribers},
		{"MultipleChannels", testMultipleChannels},
		{"Ordering", testOrdering},
		{"Unsubscribe", testUnsubscribe},
		{"ReceiveContextCancellation", testReceiveContextCancellation},
		{"Close", testClose},
		{"PayloadIsolation", testPayloadIsolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.test(t, newBackend(t))
		})
	}
}

// receive waits up to a second for the next frame.
func receive(t *testing.T, sub pubsub.Subscriber) pubsub.Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := sub.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	return msg
}

// subscribe subscribes and consumes the confirmation frames, so that
// anything published afterwards is delivered.
func subscribe(t *testing.T, sub pubsub.Subscriber, channels ...string) {
	t.Helper()

	if err := sub.Subscribe(context.Background(), channels...); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	for range channels {
		if msg := receive(t, sub); msg.Kind != pubsub.KindSubscribe {
			t.Fatalf("Expected subscribe frame, got %s", msg.Kind)
		}
	}
}

func expectNothing(t *testing.T, sub pubsub.Subscriber) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	msg, err := sub.Receive(ctx)
	if err == nil {
		t.Fatalf("Expected no frame, got %s on %q: %q", msg.Kind, msg.Channel, msg.Payload)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func testPublishWithNoSubscribers(t *testing.T, connect connector) {
	pub := connect()

	// Should not error even with no subscribers (fire-and-forget)
	err := pub.Publish(context.Background(), "test-channel", []byte("hello"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func testSubscribeConfirmation(t *testing.T, connect connector) {
	sub := connect()

	if err := sub.Subscribe(context.Background(), "channel-a", "channel-b"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for i, want := range []string{"channel-a", "channel-b"} {
		msg := receive(t, sub)
		if msg.Kind != pubsub.KindSubscribe {
			t.Errorf("Frame %d: expected subscribe, got %s", i, msg.Kind)
		}
		if msg.Channel != want {
			t.Errorf("Frame %d: expected channel %q, got %q", i, want, msg.Channel)
		}
		if msg.Count != i+1 {
			t.Errorf("Frame %d: expected count %d, got %d", i, i+1, msg.Count)
		}
	}
}

func testSingleSubscriber(t *testing.T, connect connector) {
	pub, sub := connect(), connect()
	subscribe(t, sub, "test-channel")

	if err := pub.Publish(context.Background(), "test-channel", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg := receive(t, sub)
	if msg.Kind != pubsub.KindMessage {
		t.Errorf("Expected message frame, got %s", msg.Kind)
	}
	if msg.Channel != "test-channel" {
		t.Errorf("Expected channel 'test-channel', got %q", msg.Channel)
	}
	if string(msg.Payload) != "hello" {
		t.Errorf("Expected 'hello', got %q", msg.Payload)
	}
}

func testMultipleSubscribers(t *testing.T, connect connector) {
	pub := connect()
	subs := []pubsub.Transport{connect(), connect(), connect()}
	for _, sub := range subs {
		subscribe(t, sub, "test-channel")
	}

	// Publish once
	pub.Publish(context.Background(), "test-channel", []byte("broadcast"))

	// All 3 should receive
	for i, sub := range subs {
		msg := receive(t, sub)
		if string(msg.Payload) != "broadcast" {
			t.Errorf("Subscriber %d: expected 'broadcast', got %q", i+1, msg.Payload)
		}
	}
}

func testMultipleChannels(t *testing.T, connect connector) {
	pub, subA, subB := connect(), connect(), connect()
	subscribe(t, subA, "channel-a")
	subscribe(t, subB, "channel-b")

	pub.Publish(context.Background(), "channel-a", []byte("message-a"))

	if msg := receive(t, subA); string(msg.Payload) != "message-a" {
		t.Errorf("Expected 'message-a', got %q", msg.Payload)
	}
	// channel-b should not receive anything
	expectNothing(t, subB)

	pub.Publish(context.Background(), "channel-b", []byte("message-b"))

	if msg := receive(t, subB); string(msg.Payload) != "message-b" {
		t.Errorf("Expected 'message-b', got %q", msg.Payload)
	}
}

func testOrdering(t *testing.T, connect connector) {
	pub, sub := connect(), connect()
	subscribe(t, sub, "test-channel")

	const n = 50
	for i := range n {
		if err := pub.Publish(context.Background(), "test-channel", fmt.Appendf(nil, "%d", i)); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	for i := range n {
		msg := receive(t, sub)
		if want := fmt.Sprint(i); string(msg.Payload) != want {
			t.Fatalf("Message %d: expected %q, got %q", i, want, msg.Payload)
		}
	}
}

func testUnsubscribe(t *testing.T, connect connector) {
	pub, sub := connect(), connect()
	subscribe(t, sub, "test-channel")

	if err := sub.Unsubscribe(context.Background(), "test-channel"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	msg := receive(t, sub)
	if msg.Kind != pubsub.KindUnsubscribe || msg.Channel != "test-channel" || msg.Count != 0 {
		t.Errorf("Expected unsubscribe frame for 'test-channel' with count 0, got %+v", msg)
	}

	pub.Publish(context.Background(), "test-channel", []byte("too late"))

	// Should NOT receive after unsubscribe
	expectNothing(t, sub)
}

func testReceiveContextCancellation(t *testing.T, connect connector) {
	sub := connect()
	subscribe(t, sub, "test-channel")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := sub.Receive(ctx)
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after cancel")
	}
}

func testClose(t *testing.T, connect connector) {
	ctx := context.Background()
	tr := connect()
	subscribe(t, tr, "test-channel")

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Operations after close should fail
	if err := tr.Publish(ctx, "test-channel", []byte("hello")); err != pubsub.ErrClosed {
		t.Errorf("Publish: expected ErrClosed after Close, got %v", err)
	}
	if err := tr.Subscribe(ctx, "test-channel"); err != pubsub.ErrClosed {
		t.Errorf("Subscribe: expected ErrClosed after Close, got %v", err)
	}
	if _, err := tr.Receive(ctx); err != pubsub.ErrClosed {
		t.Errorf("Receive: expected ErrClosed after Close, got %v", err)
	}

	// Double close should not panic
	if err := tr.Close(); err != pubsub.ErrClosed {
		t.Errorf("Expected ErrClosed on double close, got %v", err)
	}
}

func testPayloadIsolation(t *testing.T, connect connector) {
	pub, sub := connect(), connect()
	subscribe(t, sub, "test-channel")

	original := []byte("hello")
	if err := pub.Publish(context.Background(), "test-channel", original); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg := receive(t, sub)
	msg.Payload[0] = 'X'

	// Original should not be modified
	if string(original) != "hello" {
		t.Errorf("Original payload was modified: %q", original)
	}
}

package pubsub

import (
	"context"
	"testing"
	"time"
)

func TestLocalPubSubDelivers(t *testing.T) {
	ps := NewLocalPubSub()
	defer func() { _ = ps.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := ps.Subscribe(ctx, ChangesChannel)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := ps.Publish(ctx, ChangesChannel, []byte(`{"type":"INSERT"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Channel != ChangesChannel {
			t.Errorf("channel = %q, want %q", msg.Channel, ChangesChannel)
		}
		if string(msg.Payload) != `{"type":"INSERT"}` {
			t.Errorf("payload = %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestLocalPubSubChannelIsolation(t *testing.T) {
	ps := NewLocalPubSub()
	defer func() { _ = ps.Close() }()

	ctx := context.Background()
	ch, err := ps.Subscribe(ctx, "a")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := ps.Publish(ctx, "b", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-ch:
		t.Errorf("received cross-channel message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

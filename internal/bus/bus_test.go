package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSessionKey(t *testing.T) {
	msg := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got := msg.SessionKey(); got != "telegram:42" {
		t.Errorf("SessionKey = %q", got)
	}
}

func TestIsCommand(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"/diagnose", true},
		{"/", true},
		{"hello /diagnose", false},
		{"", false},
	}
	for _, tt := range tests {
		msg := InboundMessage{Content: tt.content}
		if got := msg.IsCommand(); got != tt.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestDispatchOutbound_RoutesByChannel(t *testing.T) {
	b := NewMessageBus(4)

	var mu sync.Mutex
	got := map[string][]string{}
	done := make(chan struct{}, 2)
	for _, name := range []string{"telegram", "cli"} {
		name := name
		b.SubscribeOutbound(name, func(msg OutboundMessage) {
			mu.Lock()
			got[name] = append(got[name], msg.ChatID)
			mu.Unlock()
			done <- struct{}{}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		b.DispatchOutbound(ctx)
		close(finished)
	}()

	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "1"}
	b.Outbound <- OutboundMessage{Channel: "cli", ChatID: "2"}
	b.Outbound <- OutboundMessage{Channel: "nobody", ChatID: "3"}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	cancel()
	<-finished

	mu.Lock()
	defer mu.Unlock()
	if len(got["telegram"]) != 1 || got["telegram"][0] != "1" {
		t.Errorf("telegram deliveries = %v", got["telegram"])
	}
	if len(got["cli"]) != 1 || got["cli"][0] != "2" {
		t.Errorf("cli deliveries = %v", got["cli"])
	}
}

func TestPublish_RespectsContext(t *testing.T) {
	b := NewMessageBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if b.PublishInbound(ctx, InboundMessage{Content: "x"}) {
		t.Error("PublishInbound should fail on a cancelled context with no reader")
	}
	if b.PublishOutbound(ctx, OutboundMessage{Content: "x"}) {
		t.Error("PublishOutbound should fail on a cancelled context with no reader")
	}
}

func TestPublishInbound_Buffered(t *testing.T) {
	b := NewMessageBus(1)
	if !b.PublishInbound(context.Background(), InboundMessage{Content: "hi"}) {
		t.Fatal("PublishInbound failed")
	}
	msg := <-b.Inbound
	if msg.Content != "hi" {
		t.Errorf("content = %q", msg.Content)
	}
}

package events

import (
	"testing"
	"time"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	defer b.Close()

	a := b.Subscribe(4)
	c := b.Subscribe(4)

	b.Publish(TypeRiskWarning, "volatility elevated")

	for _, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Type != TypeRiskWarning {
				t.Fatalf("got type %s, want %s", ev.Type, TypeRiskWarning)
			}
			if ev.Payload.(string) != "volatility elevated" {
				t.Fatalf("unexpected payload %v", ev.Payload)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_ = b.Subscribe(1) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(TypeTradeExecuted, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(1)
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}

	// Publishing after Close must not panic.
	b.Publish(TypeTradeFailed, nil)
}

package notify

import (
	"testing"
	"time"
)

func TestNotifyReachesTenantSubscribers(t *testing.T) {
	hub := NewHub()

	_, ch1, cancel1 := hub.Subscribe(1, 4)
	defer cancel1()
	_, ch2, cancel2 := hub.Subscribe(2, 4)
	defer cancel2()

	hub.Notify(Event{Topic: TopicTicket, TenantID: 1, Data: Marshal(map[string]string{"id": "t1"})})

	select {
	case ev := <-ch1:
		if ev.Topic != TopicTicket || ev.TenantID != 1 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("tenant 1 subscriber did not receive event")
	}

	select {
	case ev := <-ch2:
		t.Fatalf("tenant 2 should not receive tenant 1 event: %+v", ev)
	default:
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()

	_, ch, cancel := hub.Subscribe(1, 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Notify(Event{Topic: TopicMessage, TenantID: 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full subscriber channel")
	}
	// Buffer of one: at least the first event arrived.
	select {
	case <-ch:
	default:
		t.Fatal("expected at least one buffered event")
	}
}

func TestCancelClosesStream(t *testing.T) {
	hub := NewHub()

	_, ch, cancel := hub.Subscribe(1, 1)
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}

	// Publishing after cancel must be a no-op.
	hub.Notify(Event{Topic: TopicTicket, TenantID: 1})
}

package events

import (
	"testing"
	"time"
)

func TestBroker_DeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventDie, Container: "u-1", ExitCode: 137})

	select {
	case ev := <-sub:
		if ev.Container != "u-1" || ev.Type != EventDie || ev.ExitCode != 137 {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("expected Publish to stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBroker_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	defer b.Unsubscribe(slow)
	fast := b.Subscribe()
	defer b.Unsubscribe(fast)

	// Fill the slow subscriber's buffer past capacity; broadcast must
	// drop for it rather than stall the fast one.
	for i := 0; i < 60; i++ {
		b.Publish(&Event{Type: EventStart, Container: "u-1"})
	}

	deadline := time.After(time.Second)
	received := 0
	for received < 50 {
		select {
		case <-fast:
			received++
		case <-deadline:
			t.Fatalf("fast subscriber stalled after %d events", received)
		}
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", b.SubscriberCount())
	}
	b.Unsubscribe(sub)
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", b.SubscriberCount())
	}
	if _, ok := <-sub; ok {
		t.Fatal("expected channel to be closed")
	}
}

func TestStateClassification(t *testing.T) {
	for _, et := range []EventType{EventStart, EventDie, EventStop, EventKill, EventPause, EventUnpause} {
		if !SettleStates[et] {
			t.Errorf("%s should be a settle state", et)
		}
	}
	for _, et := range []EventType{EventRemove, EventDestroy} {
		if !RemovalStates[et] {
			t.Errorf("%s should be a removal state", et)
		}
		if SettleStates[et] {
			t.Errorf("%s should not be a settle state", et)
		}
	}
	for _, et := range []EventType{EventDie, EventStop, EventKill} {
		if !ExitStates[et] {
			t.Errorf("%s should be an exit state", et)
		}
	}
	if ExitStates[EventStart] {
		t.Error("start is not an exit state")
	}
}

package events

import "testing"

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)
	defer sub.Close()

	bus.Publish(Event{Kind: KindItemStatus, ItemID: "a", Status: "transcoding"})
	bus.Publish(Event{Kind: KindItemProgress, ItemID: "a"})
	bus.Publish(Event{Kind: KindItemStatus, ItemID: "a", Status: "completed"})

	first := <-sub.C
	second := <-sub.C
	third := <-sub.C
	if first.Kind != KindItemStatus || first.Status != "transcoding" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if second.Kind != KindItemProgress {
		t.Fatalf("unexpected second event: %+v", second)
	}
	if third.Status != "completed" {
		t.Fatalf("unexpected third event: %+v", third)
	}
	if !(first.Sequence < second.Sequence && second.Sequence < third.Sequence) {
		t.Fatalf("sequence numbers not monotonic: %d %d %d", first.Sequence, second.Sequence, third.Sequence)
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(2)
	defer sub.Close()

	bus.Publish(Event{Kind: KindItemProgress, Message: "1"})
	bus.Publish(Event{Kind: KindItemProgress, Message: "2"})
	bus.Publish(Event{Kind: KindItemProgress, Message: "3"})

	got := <-sub.C
	if got.Message != "2" {
		t.Fatalf("expected oldest event dropped, got %q first", got.Message)
	}
	got = <-sub.C
	if got.Message != "3" {
		t.Fatalf("expected newest event retained, got %q", got.Message)
	}
}

func TestCloseUnblocksSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	bus.Close()
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel after bus close")
	}
	// Publishing after close must be a no-op.
	bus.Publish(Event{Kind: KindPaused})
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	sub := bus.Subscribe(1)
	sub.Close()
	sub.Close() // idempotent
	bus.Publish(Event{Kind: KindResumed})
}

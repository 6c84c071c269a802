package events

import (
	"testing"
)

func TestBroadcaster_SubscribeConfirms(t *testing.T) {
	b := NewBroadcaster(10)
	ch := b.Subscribe("client-1", "wo-1", nil)

	e := <-ch
	if e.Type != TypeSubscriptionConfirmed {
		t.Fatalf("expected subscription_confirmed as first message, got %s", e.Type)
	}
}

func TestBroadcaster_PublishOrderPreservedPerSubscriber(t *testing.T) {
	b := NewBroadcaster(10)
	ch := b.Subscribe("client-1", "wo-1", nil)
	<-ch // drain confirmation

	b.Publish(Event{Type: TypeRunStarted, WorkOrderID: "wo-1"})
	b.Publish(Event{Type: TypeProgressUpdate, WorkOrderID: "wo-1"})
	b.Publish(Event{Type: TypeRunCompleted, WorkOrderID: "wo-1"})

	first := <-ch
	second := <-ch
	third := <-ch
	if first.Type != TypeRunStarted || second.Type != TypeProgressUpdate || third.Type != TypeRunCompleted {
		t.Fatalf("expected publish order preserved, got %s %s %s", first.Type, second.Type, third.Type)
	}
}

func TestBroadcaster_OverflowEvictsOldestAndCountsDropped(t *testing.T) {
	b := NewBroadcaster(3)
	b.Subscribe("client-1", "wo-1", nil)

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypeProgressUpdate, WorkOrderID: "wo-1"})
	}

	if got := b.Dropped("client-1"); got != 3 {
		t.Fatalf("expected 3 dropped events (confirmation + 5 published - 3 capacity), got %d", got)
	}
	if b.SubscriberCount() != 1 {
		t.Fatal("expected subscriber to remain connected after overflow")
	}
}

func TestBroadcaster_UnmatchedWorkOrderNotDelivered(t *testing.T) {
	b := NewBroadcaster(10)
	ch := b.Subscribe("client-1", "wo-1", nil)
	<-ch

	b.Publish(Event{Type: TypeRunStarted, WorkOrderID: "wo-other"})

	select {
	case e := <-ch:
		t.Fatalf("did not expect delivery for a non-matching work order, got %v", e)
	default:
	}
}

func TestBroadcaster_UnsubscribeIsSilent(t *testing.T) {
	b := NewBroadcaster(10)
	b.Subscribe("client-1", "wo-1", nil)
	b.Unsubscribe("client-1")
	b.Unsubscribe("client-1") // double unsubscribe must not panic

	if b.SubscriberCount() != 0 {
		t.Fatal("expected subscriber removed")
	}
}

func TestBroadcaster_OneSubscriberFailureDoesNotAffectAnother(t *testing.T) {
	b := NewBroadcaster(1)
	goodCh := b.Subscribe("good", "wo-1", nil)
	<-goodCh
	badCh := b.Subscribe("bad", "wo-1", nil)
	<-badCh
	b.Unsubscribe("bad") // closed channel, future deliveries must not panic

	b.Publish(Event{Type: TypeRunStarted, WorkOrderID: "wo-1"})

	select {
	case e := <-goodCh:
		if e.Type != TypeRunStarted {
			t.Fatalf("unexpected event: %v", e)
		}
	default:
		t.Fatal("expected the surviving subscriber to still receive events")
	}
}

package resource

import "testing"

func TestMonitor_AcquireUpToLimit(t *testing.T) {
	m := NewMonitor(DefaultConfig(2))

	h1 := m.AcquireSlot("a")
	h2 := m.AcquireSlot("b")
	h3 := m.AcquireSlot("c")

	if h1 == nil || h2 == nil {
		t.Fatal("expected first two acquisitions to succeed")
	}
	if h3 != nil {
		t.Fatal("expected third acquisition to fail at the slot limit")
	}
	if got := m.ActiveCount(); got != 2 {
		t.Fatalf("expected active count 2, got %d", got)
	}
}

func TestMonitor_ReleaseIsIdempotent(t *testing.T) {
	m := NewMonitor(DefaultConfig(1))
	h := m.AcquireSlot("a")

	m.ReleaseSlot(h)
	m.ReleaseSlot(h)

	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("expected active count 0 after release, got %d", got)
	}
	if m.AcquireSlot("b") == nil {
		t.Fatal("expected slot to be reusable after release")
	}
}

func TestMonitor_EmitsSlotEvents(t *testing.T) {
	m := NewMonitor(DefaultConfig(1))
	var events []Event
	m.OnEvent(func(e Event, _ map[string]any) { events = append(events, e) })

	h := m.AcquireSlot("a")
	m.ReleaseSlot(h)

	if len(events) != 2 || events[0] != EventSlotAcquired || events[1] != EventSlotReleased {
		t.Fatalf("unexpected event sequence: %v", events)
	}
}

func TestMonitor_AllowSubmissionDisabledByDefault(t *testing.T) {
	m := NewMonitor(DefaultConfig(1))
	for i := 0; i < 50; i++ {
		if !m.AllowSubmission("client-a") {
			t.Fatal("expected unlimited submissions when SubmissionRatePerSec is unset")
		}
	}
}

func TestMonitor_AllowSubmissionEnforcesPerClientBurst(t *testing.T) {
	cfg := DefaultConfig(1)
	cfg.SubmissionRatePerSec = 1
	cfg.SubmissionBurst = 2
	m := NewMonitor(cfg)

	if !m.AllowSubmission("client-a") || !m.AllowSubmission("client-a") {
		t.Fatal("expected burst of 2 to succeed")
	}
	if m.AllowSubmission("client-a") {
		t.Fatal("expected third immediate submission to be rate limited")
	}
	if !m.AllowSubmission("client-b") {
		t.Fatal("expected a different client's bucket to be independent")
	}
}

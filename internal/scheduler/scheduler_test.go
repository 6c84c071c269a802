package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/workbenchhq/controlplane/internal/resource"
	"github.com/workbenchhq/controlplane/internal/workorder"
)

func newTestScheduler(mode Mode, maxSlots, maxDepth int) (*Scheduler, *resource.Monitor) {
	mon := resource.NewMonitor(resource.DefaultConfig(maxSlots))
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.MaxQueueDepth = maxDepth
	cfg.PollInterval = 5 * time.Millisecond
	return NewScheduler(cfg, mon), mon
}

func TestScheduler_FIFODispatchOrder(t *testing.T) {
	s, mon := newTestScheduler(ModeFIFO, 1, 0)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	s.SetExecutionHandler(func(wo workorder.QueuedWorkOrder, slot *resource.SlotHandle) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			order = append(order, wo.ID)
			n := len(order)
			mu.Unlock()
			mon.ReleaseSlot(slot)
			if n == 3 {
				close(done)
			}
		}()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Enqueue(workorder.QueuedWorkOrder{ID: "A", SubmittedAt: time.Unix(1, 0)})
	s.Enqueue(workorder.QueuedWorkOrder{ID: "B", SubmittedAt: time.Unix(2, 0)})
	s.Enqueue(workorder.QueuedWorkOrder{ID: "C", SubmittedAt: time.Unix(3, 0)})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Fatalf("expected FIFO order [A B C], got %v", order)
	}
}

func TestScheduler_PriorityDispatchOrder(t *testing.T) {
	s, mon := newTestScheduler(ModePriority, 1, 0)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	s.SetExecutionHandler(func(wo workorder.QueuedWorkOrder, slot *resource.SlotHandle) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			order = append(order, wo.ID)
			n := len(order)
			mu.Unlock()
			mon.ReleaseSlot(slot)
			if n == 3 {
				close(done)
			}
		}()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Enqueue(workorder.QueuedWorkOrder{ID: "low", Priority: 1})
	s.Enqueue(workorder.QueuedWorkOrder{ID: "high", Priority: 10})
	s.Enqueue(workorder.QueuedWorkOrder{ID: "med", Priority: 5})

	s.Start(ctx)
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "high" || order[1] != "med" || order[2] != "low" {
		t.Fatalf("expected priority order [high med low], got %v", order)
	}
}

func TestScheduler_Backpressure(t *testing.T) {
	s, _ := newTestScheduler(ModeFIFO, 1, 2)
	s.SetExecutionHandler(func(workorder.QueuedWorkOrder, *resource.SlotHandle) {})

	var backpressureDepth int
	s.OnEvent(func(e Event, detail map[string]any) {
		if e == EventBackpressure {
			backpressureDepth = detail["depth"].(int)
		}
	})

	if ok := s.Enqueue(workorder.QueuedWorkOrder{ID: "A"}); !ok {
		t.Fatal("expected A to be admitted")
	}
	if ok := s.Enqueue(workorder.QueuedWorkOrder{ID: "B"}); !ok {
		t.Fatal("expected B to be admitted")
	}
	if ok := s.Enqueue(workorder.QueuedWorkOrder{ID: "C"}); ok {
		t.Fatal("expected C to be rejected under backpressure")
	}
	if backpressureDepth != 2 {
		t.Fatalf("expected backpressure reported at depth 2, got %d", backpressureDepth)
	}
}

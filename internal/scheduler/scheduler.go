// Package scheduler implements the admission-controlled queue: a FIFO or
// priority queue feeding slot-gated dispatch to an execution handler.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/workbenchhq/controlplane/internal/resource"
	"github.com/workbenchhq/controlplane/internal/workorder"
)

// Event is a scheduler-level notification.
type Event string

const (
	EventBackpressure Event = "backpressure"
)

// Listener receives scheduler events.
type Listener func(event Event, detail map[string]any)

// ExecutionHandler dispatches a dequeued work order once a slot has been
// acquired for it. It must not block the scheduler's poll loop; callers are
// expected to hand off to their own goroutine/task.
type ExecutionHandler func(wo workorder.QueuedWorkOrder, slot *resource.SlotHandle)

// Config configures a Scheduler.
type Config struct {
	Mode           Mode
	MaxQueueDepth  int
	PollInterval   time.Duration
	StaggerDelay   time.Duration
}

// DefaultConfig returns FIFO mode, 1000-deep queue, 100ms poll, no stagger.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeFIFO,
		MaxQueueDepth: 1000,
		PollInterval:  100 * time.Millisecond,
	}
}

// Scheduler pairs an admission Queue with a resource.Monitor and dispatches
// queued work orders to an execution handler as slots become available.
type Scheduler struct {
	cfg     Config
	queue   *Queue
	monitor *resource.Monitor

	mu        sync.Mutex
	handler   ExecutionHandler
	listeners []Listener
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewScheduler builds a Scheduler. monitor supplies slot acquisition.
func NewScheduler(cfg Config, monitor *resource.Monitor) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		queue:   NewQueue(cfg.Mode, cfg.MaxQueueDepth),
		monitor: monitor,
	}
}

// OnEvent registers a listener for scheduler-level events (currently just
// backpressure; dispatch itself is observed via the execution handler).
func (s *Scheduler) OnEvent(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Scheduler) emit(event Event, detail map[string]any) {
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(event, detail)
	}
}

// SetExecutionHandler installs the dispatch callback. Must be called before
// Start.
func (s *Scheduler) SetExecutionHandler(fn ExecutionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Enqueue admits wo, returning false and emitting backpressure when the
// queue is at MaxQueueDepth.
func (s *Scheduler) Enqueue(wo workorder.QueuedWorkOrder) bool {
	if wo.SubmittedAt.IsZero() {
		wo.SubmittedAt = time.Now()
	}
	ok := s.queue.Enqueue(wo)
	if !ok {
		s.emit(EventBackpressure, map[string]any{"depth": s.queue.Len(), "id": wo.ID})
	}
	return ok
}

// Position returns the queue position for id.
func (s *Scheduler) Position(id string) (workorder.QueuePosition, bool) {
	pos, ahead, ok := s.queue.Position(id)
	if !ok {
		return workorder.QueuePosition{}, false
	}
	return workorder.QueuePosition{
		Position: pos,
		Ahead:    ahead,
		State:    workorder.QueuePositionState("waiting"),
	}, true
}

// Depth returns the current queue depth.
func (s *Scheduler) Depth() int { return s.queue.Len() }

// Start begins the poll loop. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	if s.handler == nil {
		s.mu.Unlock()
		log.Println("scheduler: Start called with no execution handler installed")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.pollLoop(ctx)
}

// Stop halts the poll loop. It only stops polling for new dispatches; it
// does not drain or cancel work already dispatched. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick dispatches as many items as there are free slots, one per poll
// interval per spec, stopping at the first failed slot acquisition.
func (s *Scheduler) tick() {
	for {
		wo, ok := s.queue.Peek()
		if !ok {
			return
		}
		slot := s.monitor.AcquireSlot(wo.ID)
		if slot == nil {
			return
		}

		wo, ok = s.queue.Dequeue()
		if !ok {
			s.monitor.ReleaseSlot(slot)
			return
		}

		s.mu.Lock()
		handler := s.handler
		stagger := s.cfg.StaggerDelay
		s.mu.Unlock()

		handler(wo, slot)

		if stagger > 0 {
			time.Sleep(stagger)
		}
	}
}

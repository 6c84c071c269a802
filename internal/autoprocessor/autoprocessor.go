// Package autoprocessor implements the background drainer that feeds queued
// work orders into the orchestrator as resources allow, independent of
// whatever triggered their submission.
package autoprocessor

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/workbenchhq/controlplane/internal/resource"
	"github.com/workbenchhq/controlplane/internal/workorder"
)

// Config controls poll cadence, stagger, and the memory floor required
// before a new work order is started.
type Config struct {
	PollInterval           time.Duration
	StaggerDelay           time.Duration
	MinAvailableMemoryFrac float64 // 0 disables the check
	ShutdownGrace          time.Duration
}

// DefaultConfig returns a 2s poll with no stagger and no memory floor.
func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second, ShutdownGrace: 30 * time.Second}
}

// Lister returns queued work orders, oldest first.
type Lister func(ctx context.Context) ([]workorder.WorkOrder, error)

// Starter begins processing a work order; it must not block for the
// lifetime of the run.
type Starter func(ctx context.Context, wo workorder.WorkOrder)

// AutoProcessor drains the queued-work-order backlog on a ticker.
type AutoProcessor struct {
	cfg     Config
	monitor *resource.Monitor
	list    Lister
	start   Starter

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	inFlight errgroup.Group
}

// New constructs an AutoProcessor.
func New(cfg Config, monitor *resource.Monitor, list Lister, start Starter) *AutoProcessor {
	return &AutoProcessor{cfg: cfg, monitor: monitor, list: list, start: start}
}

// Start begins the poll ticker. Idempotent.
func (a *AutoProcessor) Start(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	a.mu.Unlock()

	go a.loop(ctx)
}

// Stop halts the ticker and waits up to ShutdownGrace for in-flight starts
// initiated by this tick to return (the runs they kick off are not waited
// on; only the bookkeeping goroutine is). The drain itself fans in through
// an errgroup.Group rather than a bare sync.WaitGroup, so a panicking start
// callback surfaces as an error from Wait() instead of silently vanishing.
func (a *AutoProcessor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	stopCh := a.stopCh
	doneCh := a.doneCh
	a.mu.Unlock()

	close(stopCh)
	<-doneCh

	graceDone := make(chan struct{})
	go func() {
		if err := a.inFlight.Wait(); err != nil {
			log.Printf("autoprocessor: in-flight start returned an error during drain: %v", err)
		}
		close(graceDone)
	}()
	select {
	case <-graceDone:
	case <-time.After(a.cfg.ShutdownGrace):
		log.Println("autoprocessor: shutdown grace period elapsed with work still in flight")
	}
}

func (a *AutoProcessor) loop(ctx context.Context) {
	defer close(a.doneCh)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *AutoProcessor) tick(ctx context.Context) {
	if !a.monitor.CanStart() {
		return
	}
	if a.cfg.MinAvailableMemoryFrac > 0 && a.monitor.AvailableMemoryFrac() < a.cfg.MinAvailableMemoryFrac {
		return
	}

	candidates, err := a.list(ctx)
	if err != nil {
		log.Printf("autoprocessor: failed to list queued work orders: %v", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	oldest := candidates[0]
	for _, c := range candidates[1:] {
		if c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}

	if a.cfg.StaggerDelay > 0 {
		time.Sleep(a.cfg.StaggerDelay)
	}

	a.inFlight.Go(func() error {
		a.start(ctx, oldest)
		return nil
	})
}

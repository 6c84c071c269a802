// Package queuemanager implements the legacy single-queue admission path,
// preserved alongside the newer scheduler so the queue facade can migrate
// traffic between the two without downtime.
package queuemanager

import (
	"sync"
	"time"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

// Manager is a simple FIFO-only queue with a fixed worker budget. It predates
// the priority-aware Scheduler and is kept only as the "legacy" side of the
// rollout facade.
type Manager struct {
	mu           sync.Mutex
	items        []workorder.QueuedWorkOrder
	running      map[string]struct{}
	maxWorkers   int
	maxQueueSize int
}

// Config configures a legacy Manager.
type Config struct {
	MaxWorkers   int
	MaxQueueSize int
}

// NewManager constructs a legacy queue manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		running:      make(map[string]struct{}),
		maxWorkers:   cfg.MaxWorkers,
		maxQueueSize: cfg.MaxQueueSize,
	}
}

// Enqueue appends wo to the tail, rejecting when at capacity.
func (m *Manager) Enqueue(wo workorder.QueuedWorkOrder) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxQueueSize > 0 && len(m.items) >= m.maxQueueSize {
		return false
	}
	if wo.SubmittedAt.IsZero() {
		wo.SubmittedAt = time.Now()
	}
	m.items = append(m.items, wo)
	return true
}

// Next removes and returns the head item if a worker slot is available.
func (m *Manager) Next() (workorder.QueuedWorkOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 || len(m.running) >= m.maxWorkers {
		return workorder.QueuedWorkOrder{}, false
	}
	wo := m.items[0]
	m.items = m.items[1:]
	m.running[wo.ID] = struct{}{}
	return wo, true
}

// Release marks id's run as finished, freeing a worker slot.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, id)
}

// Len returns the current queue depth (not counting running items).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Position mirrors scheduler.Queue.Position for the legacy path.
func (m *Manager) Position(id string) (position int, ahead int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.items {
		if it.ID == id {
			return i + 1, i, true
		}
	}
	return 0, 0, false
}

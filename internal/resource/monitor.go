// Package resource gates execution dispatch on available concurrency slots
// and, optionally, on system memory pressure.
package resource

import (
	"log"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Event is the type of a resource-monitor notification.
type Event string

const (
	EventSlotAcquired   Event = "slot-acquired"
	EventSlotReleased   Event = "slot-released"
	EventMemoryWarning  Event = "memory-warning"
	EventMemoryCritical Event = "memory-critical"
)

// Config configures a Monitor. Setting either threshold >= 1.0 disables the
// corresponding memory check, which is how tests opt out of memory polling
// entirely.
type Config struct {
	MaxConcurrentSlots   int
	MemoryPerSlotMB      int
	WarningThreshold     float64
	CriticalThreshold    float64
	PollInterval         time.Duration
	SubmissionRatePerSec float64 // 0 disables per-client submission limiting
	SubmissionBurst      int
}

// DefaultConfig returns sensible defaults with memory checks disabled.
func DefaultConfig(maxSlots int) Config {
	return Config{
		MaxConcurrentSlots: maxSlots,
		MemoryPerSlotMB:    512,
		WarningThreshold:   1.1,
		CriticalThreshold:  1.1,
		PollInterval:       5 * time.Second,
	}
}

// submissionLimiter is a per-key token bucket, grounded on the teacher's
// TokenBucketLimiter (scheduler/limiter.go), generalized from per-node
// agent heartbeats to per-client work-order submissions.
type submissionLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newSubmissionLimiter(ratePerSec float64, burst int) *submissionLimiter {
	return &submissionLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(ratePerSec),
		b:        burst,
	}
}

func (l *submissionLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = lim
	}
	return lim.Allow()
}

// SlotHandle is returned by AcquireSlot and passed back to ReleaseSlot.
type SlotHandle struct {
	id       string
	released bool
}

// ID returns the identifier the slot was acquired for.
func (h *SlotHandle) ID() string { return h.id }

// Listener receives resource-monitor events.
type Listener func(event Event, detail map[string]any)

// Monitor tracks concurrency slots and, optionally, memory pressure.
type Monitor struct {
	mu             sync.Mutex
	cfg            Config
	active         map[string]*SlotHandle
	memoryCritical bool
	listeners      []Listener
	submission     *submissionLimiter

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor builds a Monitor from cfg. Call Start to begin memory polling;
// AcquireSlot/ReleaseSlot work without Start being called.
func NewMonitor(cfg Config) *Monitor {
	m := &Monitor{
		cfg:    cfg,
		active: make(map[string]*SlotHandle),
	}
	if cfg.SubmissionRatePerSec > 0 {
		m.submission = newSubmissionLimiter(cfg.SubmissionRatePerSec, cfg.SubmissionBurst)
	}
	return m
}

// AllowSubmission reports whether clientID may submit another work order
// right now, per the configured per-client token bucket. Always true when
// submission rate limiting is disabled.
func (m *Monitor) AllowSubmission(clientID string) bool {
	if m.submission == nil {
		return true
	}
	return m.submission.allow(clientID)
}

// OnEvent registers a listener invoked synchronously for every emitted
// event. Intended for tests and for wiring into the telemetry/broadcaster
// layers; panics inside a listener are not recovered by design since they
// indicate a programming error in the caller, not an expected failure mode.
func (m *Monitor) OnEvent(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Monitor) emit(event Event, detail map[string]any) {
	for _, l := range m.listeners {
		l(event, detail)
	}
}

// AcquireSlot returns a handle iff a slot is free and memory pressure is
// below the critical threshold. Non-blocking; constant-time.
func (m *Monitor) AcquireSlot(id string) *SlotHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) >= m.cfg.MaxConcurrentSlots {
		return nil
	}
	if m.memoryCritical {
		return nil
	}

	h := &SlotHandle{id: id}
	m.active[id] = h
	m.emit(EventSlotAcquired, map[string]any{"id": id, "active": len(m.active)})
	return h
}

// ReleaseSlot frees a slot. Idempotent: releasing an already-released or
// unknown handle is a no-op.
func (m *Monitor) ReleaseSlot(h *SlotHandle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if h.released {
		return
	}
	h.released = true
	delete(m.active, h.id)
	m.emit(EventSlotReleased, map[string]any{"id": h.id, "active": len(m.active)})
}

// ActiveCount returns the number of currently-held slots.
func (m *Monitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CanStart reports whether a slot would currently be available.
func (m *Monitor) CanStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) < m.cfg.MaxConcurrentSlots && !m.memoryCritical
}

// AvailableMemoryFrac returns the fraction of system memory estimated free
// (1 - allocated/sys), for callers (e.g. the auto-processor) that gate on a
// minimum headroom rather than just the critical threshold.
func (m *Monitor) AvailableMemoryFrac() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys == 0 {
		return 1
	}
	return 1 - float64(ms.Alloc)/float64(ms.Sys)
}

// Start begins the fixed-interval memory poll. A zero PollInterval or a
// disabled threshold configuration makes Start a no-op loop that never
// fires a memory check, matching how tests construct monitors without a
// real memory poller.
func (m *Monitor) Start() {
	if m.cfg.WarningThreshold >= 1.0 && m.cfg.CriticalThreshold >= 1.0 {
		return
	}
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.pollLoop()
}

// Stop halts memory polling, if running. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.stopCh = nil
	m.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (m *Monitor) pollLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkMemory()
		}
	}
}

func (m *Monitor) checkMemory() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var total uint64 = ms.Sys
	if total == 0 {
		return
	}
	fraction := float64(ms.Alloc) / float64(total)

	m.mu.Lock()
	wasCritical := m.memoryCritical
	m.memoryCritical = fraction >= m.cfg.CriticalThreshold
	nowCritical := m.memoryCritical
	m.mu.Unlock()

	switch {
	case fraction >= m.cfg.CriticalThreshold && !wasCritical:
		log.Printf("resource monitor: memory critical (%.2f%%)", fraction*100)
		m.emit(EventMemoryCritical, map[string]any{"fraction": fraction})
	case fraction >= m.cfg.WarningThreshold && !nowCritical:
		m.emit(EventMemoryWarning, map[string]any{"fraction": fraction})
	}
}

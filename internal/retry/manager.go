// Package retry implements exponential backoff with full jitter for failed
// work orders, tracking at most one pending retry per id at a time.
package retry

import (
	"math/rand"
	"sync"
	"time"
)

// Config controls the backoff curve.
type Config struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterFactor  float64 // fraction of the computed delay to jitter by, in [0,1]
	MaxRetries    int
}

// DefaultConfig mirrors common production backoff tuning: 1s base, 2x
// multiplier, capped at 60s, +/-20% jitter.
func DefaultConfig() Config {
	return Config{
		BaseDelay:    time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
		MaxRetries:   5,
	}
}

// Delay returns the backoff delay for the given attempt number (1-based)
// using the full-jitter formula: delay = min(maxDelay, base*mult^(n-1)) *
// (1 +/- jitterFactor*U(0,1)), clamped to never go below base.
func (c Config) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(c.BaseDelay) * pow(c.Multiplier, attempt-1)
	capped := raw
	if float64(c.MaxDelay) < capped {
		capped = float64(c.MaxDelay)
	}

	jitter := (rng.Float64()*2 - 1) * c.JitterFactor // in [-jitterFactor, +jitterFactor]
	delay := capped * (1 + jitter)

	if delay < float64(c.BaseDelay) {
		delay = float64(c.BaseDelay)
	}
	if delay > capped*(1+c.JitterFactor) {
		delay = capped * (1 + c.JitterFactor)
	}
	return time.Duration(delay)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Callback is invoked when a scheduled retry fires. Returning true means the
// retry manager should consider this a fresh attempt for history purposes.
type Callback func(workOrderID string, attempt int)

// pendingRetry tracks one scheduled callback so Cancel can prevent it from
// firing even if the timer has already elapsed and is racing the cancel.
type pendingRetry struct {
	timer     *time.Timer
	cancelled bool
}

// Manager tracks retry history and schedules backoff callbacks.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	rng      *rand.Rand
	attempts map[string]int
	pending  map[string]*pendingRetry
	onRetry  Callback
}

// NewManager constructs a Manager. onRetry is invoked on its own goroutine
// when a scheduled delay elapses and the retry was not cancelled first.
func NewManager(cfg Config, onRetry Callback) *Manager {
	return &Manager{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		attempts: make(map[string]int),
		pending:  make(map[string]*pendingRetry),
		onRetry:  onRetry,
	}
}

// Schedule records a new attempt for id and schedules onRetry to fire after
// the computed backoff delay. Any previously pending retry for id is
// cancelled first, keeping the "at most one pending retry per id" contract.
func (m *Manager) Schedule(id string) (attempt int, delay time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, exists := m.pending[id]; exists {
		p.cancelled = true
		p.timer.Stop()
		delete(m.pending, id)
	}

	m.attempts[id]++
	attempt = m.attempts[id]
	if attempt > m.cfg.MaxRetries {
		m.attempts[id]--
		return attempt, 0, false
	}

	delay = m.cfg.Delay(attempt, m.rng)
	p := &pendingRetry{}
	p.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		cancelled := p.cancelled
		if !cancelled {
			delete(m.pending, id)
		}
		m.mu.Unlock()

		if cancelled {
			return
		}
		if m.onRetry != nil {
			m.onRetry(id, attempt)
		}
	})
	m.pending[id] = p
	return attempt, delay, true
}

// Cancel prevents a pending retry for id from firing. No-op if none pending.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, exists := m.pending[id]; exists {
		p.cancelled = true
		p.timer.Stop()
		delete(m.pending, id)
	}
}

// CancelAll atomically prevents every pending retry from firing.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.pending {
		p.cancelled = true
		p.timer.Stop()
		delete(m.pending, id)
	}
}

// RecordSuccess clears retry history for id so a future failure starts
// counting attempts from zero again.
func (m *Manager) RecordSuccess(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, id)
	if p, exists := m.pending[id]; exists {
		p.cancelled = true
		p.timer.Stop()
		delete(m.pending, id)
	}
}

// AttemptCount returns how many attempts have been recorded for id.
func (m *Manager) AttemptCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[id]
}

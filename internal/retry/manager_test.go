package retry

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"
)

func TestConfig_DelayBounds(t *testing.T) {
	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(1))

	for attempt := 1; attempt <= 8; attempt++ {
		d := cfg.Delay(attempt, rng)
		maxAllowed := time.Duration(float64(cfg.MaxDelay) * (1 + cfg.JitterFactor))
		if d < cfg.BaseDelay {
			t.Fatalf("attempt %d: delay %v below base %v", attempt, d, cfg.BaseDelay)
		}
		if d > maxAllowed {
			t.Fatalf("attempt %d: delay %v exceeds bound %v", attempt, d, maxAllowed)
		}
	}
}

func TestManager_ScheduleFiresCallback(t *testing.T) {
	cfg := Config{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2, JitterFactor: 0, MaxRetries: 3}
	var fired int32
	done := make(chan struct{}, 1)
	m := NewManager(cfg, func(id string, attempt int) {
		atomic.AddInt32(&fired, 1)
		done <- struct{}{}
	})

	attempt, _, ok := m.Schedule("wo-1")
	if !ok || attempt != 1 {
		t.Fatalf("expected first schedule to succeed with attempt 1, got %d ok=%v", attempt, ok)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected callback fired once, got %d", fired)
	}
}

func TestManager_CancelPreventsCallback(t *testing.T) {
	cfg := Config{BaseDelay: 20 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2, JitterFactor: 0, MaxRetries: 3}
	var fired int32
	m := NewManager(cfg, func(id string, attempt int) { atomic.AddInt32(&fired, 1) })

	m.Schedule("wo-1")
	m.Cancel("wo-1")

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("expected cancelled retry to never fire")
	}
}

func TestManager_MaxRetriesExhausted(t *testing.T) {
	cfg := Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, JitterFactor: 0, MaxRetries: 2}
	m := NewManager(cfg, func(string, int) {})

	m.Schedule("wo-1")
	time.Sleep(5 * time.Millisecond)
	m.Schedule("wo-1")
	time.Sleep(5 * time.Millisecond)
	_, _, ok := m.Schedule("wo-1")
	if ok {
		t.Fatal("expected schedule beyond MaxRetries to fail")
	}
}

func TestManager_RecordSuccessClearsHistory(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg, func(string, int) {})
	m.attempts["wo-1"] = 3
	m.RecordSuccess("wo-1")
	if got := m.AttemptCount("wo-1"); got != 0 {
		t.Fatalf("expected attempt count reset to 0, got %d", got)
	}
}

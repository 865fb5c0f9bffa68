package rate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type window struct {
	attempts  []time.Time
	lockUntil time.Time
	span      time.Duration
}

// sweepInterval bounds how often access-driven sweeps walk every window.
const sweepInterval = time.Minute

// Memory is an in-process Limiter. One mutex covers every identifier; work under it
// is a slice prune, so unrelated identifiers only contend briefly.
type Memory struct {
	mu        sync.Mutex
	windows   map[string]*window
	now       func() time.Time
	lastSweep time.Time
}

// NewMemory builds an empty limiter. A nil now uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		windows:   make(map[string]*window),
		now:       now,
		lastSweep: now(),
	}
}

// IsLimited prunes the window for id and reports whether it is limited.
func (m *Memory) IsLimited(_ context.Context, id string, p Policy) (Decision, error) {
	if err := p.Validate(); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.maybeSweepLocked(now)
	w := m.windows[id]
	if w == nil {
		return Decision{}, nil
	}
	if now.Before(w.lockUntil) {
		return Decision{Limited: true, RetryAfter: w.lockUntil.Sub(now)}, nil
	}

	w.prune(now, p.Window)
	if len(w.attempts) >= p.MaxAttempts {
		return m.lockLocked(id, w, now, p), nil
	}
	if len(w.attempts) == 0 {
		delete(m.windows, id)
	}
	return Decision{Attempts: len(w.attempts)}, nil
}

// RecordAttempt appends an attempt for id unless it is locked out.
func (m *Memory) RecordAttempt(_ context.Context, id string, p Policy) (Decision, error) {
	if err := p.Validate(); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.maybeSweepLocked(now)
	w := m.windows[id]
	if w == nil {
		w = &window{}
		m.windows[id] = w
	}
	w.span = p.Window
	if now.Before(w.lockUntil) {
		return Decision{Limited: true, RetryAfter: w.lockUntil.Sub(now)}, nil
	}

	w.prune(now, p.Window)
	w.attempts = append(w.attempts, now)
	if len(w.attempts) >= p.MaxAttempts {
		return m.lockLocked(id, w, now, p), nil
	}
	return Decision{Attempts: len(w.attempts)}, nil
}

// ResetAttempts clears attempts and lockout for id.
func (m *Memory) ResetAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.windows, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of identifiers with live state.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Sweep drops identifiers with no attempts inside their window and no active
// lockout. It returns the number removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

func (m *Memory) maybeSweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.sweepLocked(now)
}

func (m *Memory) sweepLocked(now time.Time) int {
	m.lastSweep = now
	removed := 0
	for id, w := range m.windows {
		if now.Before(w.lockUntil) {
			continue
		}
		w.prune(now, w.span)
		if len(w.attempts) == 0 {
			delete(m.windows, id)
			removed++
		}
	}
	return removed
}

func (m *Memory) lockLocked(id string, w *window, now time.Time, p Policy) Decision {
	count := len(w.attempts)
	if p.Lockout <= 0 {
		return Decision{Limited: true, Attempts: count}
	}
	w.attempts = w.attempts[:0]
	w.lockUntil = now.Add(p.Lockout)
	return Decision{Limited: true, RetryAfter: p.Lockout, Attempts: count}
}

func (w *window) prune(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	keep := w.attempts[:0]
	for _, ts := range w.attempts {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	w.attempts = keep
}

package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryAttemptLimiter is the single-process fallback used when REDIS_ADDR is unset.
type MemoryAttemptLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	now       func() time.Time
	entries   map[string]attempts
	nextSweep time.Time
}

type attempts struct {
	count   int
	expires time.Time
}

func NewMemoryAttemptLimiter(maxAttempts int, window time.Duration) *MemoryAttemptLimiter {
	return &MemoryAttemptLimiter{
		max:     maxAttempts,
		window:  window,
		now:     time.Now,
		entries: make(map[string]attempts),
	}
}

func (l *MemoryAttemptLimiter) current(instrumentID string) attempts {
	a, ok := l.entries[instrumentID]
	if ok && !l.now().Before(a.expires) {
		delete(l.entries, instrumentID)
		return attempts{}
	}
	return a
}

func (l *MemoryAttemptLimiter) Locked(_ context.Context, instrumentID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current(instrumentID).count >= l.max, nil
}

// sweep drops expired entries at most once per window, so instruments that
// are never checked again do not stay in memory.
func (l *MemoryAttemptLimiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for id, a := range l.entries {
		if !now.Before(a.expires) {
			delete(l.entries, id)
		}
	}
	l.nextSweep = now.Add(l.window)
}

func (l *MemoryAttemptLimiter) Fail(_ context.Context, instrumentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(l.now())
	a := l.current(instrumentID)
	if a.count == 0 {
		a.expires = l.now().Add(l.window)
	}
	a.count++
	l.entries[instrumentID] = a
	return nil
}

func (l *MemoryAttemptLimiter) Reset(_ context.Context, instrumentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, instrumentID)
	return nil
}

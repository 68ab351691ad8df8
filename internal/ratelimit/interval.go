// Package ratelimit spaces out backend calls made with the same credential.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// IntervalLimiter enforces a minimum time interval between operations per key.
// Concurrent callers on one key are given consecutive slots, so the spacing
// holds under load.
//
// Thread-safe via internal mutex.
type IntervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     map[string]time.Time
	now      func() time.Time
}

// New creates a limiter. An interval <= 0 disables limiting.
func New(interval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{
		interval: interval,
		next:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Interval returns the configured spacing.
func (l *IntervalLimiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// reserve claims the next free slot for key and returns how long the caller
// must wait for it.
func (l *IntervalLimiter) reserve(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	slot := now
	if next, ok := l.next[key]; ok && next.After(now) {
		slot = next
	}
	l.next[key] = slot.Add(l.interval)
	return slot.Sub(now)
}

// Wait blocks until key may be used again. Returns the context error if ctx
// ends first; the claimed slot is not released.
func (l *IntervalLimiter) Wait(ctx context.Context, key string) error {
	if l == nil || l.interval <= 0 {
		return nil
	}

	waitFor := l.reserve(key)
	if waitFor <= 0 {
		return nil
	}

	timer := time.NewTimer(waitFor)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reset forgets key, e.g. after its credential was replaced.
func (l *IntervalLimiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.next, key)
}

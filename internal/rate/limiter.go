package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RequestLimiter bounds overall request throughput per caller key, before
// any credential handling.
type RequestLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// MemoryLimiter keeps one token bucket per key with periodic cleanup of
// idle entries.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewMemory builds a limiter allowing perWindow requests per window,
// refilled continuously.
func NewMemory(perWindow int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*entry),
		limit:   rate.Limit(float64(perWindow) / window.Seconds()),
		burst:   perWindow,
		idleTTL: 15 * time.Minute,
	}
}

func (m *MemoryLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	m.mu.Lock()
	now := time.Now()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = e
	}
	e.lastSeen = now
	m.mu.Unlock()

	if e.lim.Allow() {
		return true, 0
	}
	return false, time.Second
}

// Cleanup drops entries idle longer than the idle TTL.
func (m *MemoryLimiter) Cleanup() {
	cutoff := time.Now().Add(-m.idleTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, k)
		}
	}
}

// StartJanitor cleans idle entries until ctx is done.
func (m *MemoryLimiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Cleanup()
			}
		}
	}()
}

package rate

import (
	"sync"
	"time"
)

// ActionCounter counts mutating actions per IP inside a fixed window.
//
// The window is a single non-sliding bucket: once the elapsed time since the
// first counted action exceeds the window, the next action resets the bucket
// wholesale. A burst just before window-end followed by a burst just after
// can therefore total up to twice the limit in a short span; that
// approximation is accepted. Counters live in memory only, so a restart
// clears them.
type ActionCounter struct {
	mu       sync.Mutex
	window   time.Duration
	counters map[string]*counter
	now      func() time.Time
}

type counter struct {
	count       int
	windowStart time.Time
}

func NewActionCounter(window time.Duration) *ActionCounter {
	return &ActionCounter{
		window:   window,
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// Record counts one action for ip and returns the post-increment count for
// the current window. Comparing the count against a limit, and blocking the
// IP on breach, is the caller's job.
func (a *ActionCounter) Record(ip string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	c, ok := a.counters[ip]
	if !ok || now.Sub(c.windowStart) > a.window {
		c = &counter{count: 1, windowStart: now}
		a.counters[ip] = c
		return c.count
	}
	c.count++
	return c.count
}

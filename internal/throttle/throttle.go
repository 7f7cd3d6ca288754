// Package throttle caps how many work units run per user inside a rolling
// window. Excess work waits for a free slot; nothing is dropped.
package throttle

import (
	"context"
	"sync"
	"time"
)

type Limiter struct {
	mu           sync.Mutex
	history      map[string][]time.Time
	stopCleanup  chan struct{}
	shutdownOnce sync.Once

	perWindow int
	window    time.Duration

	now func() time.Time
}

// NewLimiter allows perMinute slots per key per rolling minute.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = 10
	}

	l := &Limiter{
		history:     make(map[string][]time.Time),
		stopCleanup: make(chan struct{}),
		perWindow:   perMinute,
		window:      time.Minute,
		now:         time.Now,
	}
	go l.startCleanup()
	return l
}

// Allow takes a slot for key if one is free in the current window.
func (l *Limiter) Allow(key string) bool {
	_, ok := l.reserve(key)
	return ok
}

// Wait blocks until a slot frees up for key or the context is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		delay, ok := l.reserve(key)
		if ok {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve either takes a slot (true) or reports how long until the oldest
// slot in the window expires (false).
func (l *Limiter) reserve(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	hist := l.history[key]
	pruned := hist[:0]
	for _, stamp := range hist {
		if stamp.After(cutoff) {
			pruned = append(pruned, stamp)
		}
	}

	if len(pruned) < l.perWindow {
		l.history[key] = append(pruned, now)
		return 0, true
	}

	l.history[key] = pruned
	return pruned[0].Sub(cutoff), false
}

// ActiveKeys returns the number of keys with recent activity.
func (l *Limiter) ActiveKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

func (l *Limiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupStaleKeys()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanupStaleKeys drops keys whose entire history has aged out of the window.
func (l *Limiter) cleanupStaleKeys() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, hist := range l.history {
		stale := true
		for _, stamp := range hist {
			if stamp.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.history, key)
		}
	}
}

// Stop shuts down the cleanup goroutine.
func (l *Limiter) Stop() {
	l.shutdownOnce.Do(func() {
		close(l.stopCleanup)
	})
}

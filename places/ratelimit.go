package places

import (
	"sync"
	"time"
)

// rateLimiter is a fixed-window counter per client key. Windows reset fully
// on expiry, there is no sliding behavior. Stale entries are pruned whenever
// the map grows past a soft cap, which keeps memory bounded without a
// background goroutine.
type rateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mutex   sync.Mutex
	entries map[string]*windowEntry
}

type windowEntry struct {
	count   int
	started time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*windowEntry),
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if !ok || now.Sub(entry.started) >= l.window {
		if len(l.entries) > 10000 {
			l.pruneLocked(now)
		}
		l.entries[key] = &windowEntry{count: 1, started: now}
		return true
	}
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	return true
}

func (l *rateLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.started) >= l.window {
			delete(l.entries, key)
		}
	}
}

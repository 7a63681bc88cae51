package alerting

import (
	"sync"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

// keyMutex hands out one mutex per deduplication key so the trigger
// gate-then-create sequence for a key runs as one critical section while
// unrelated keys proceed without contention.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*sync.Mutex)}
}

func (m *keyMutex) forKey(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// rateLimiter tracks alert creation in rolling hour and day windows per
// configuration. State is partitioned by configuration id so concurrent
// firings against different configurations never contend on one lock.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*configWindow
}

type configWindow struct {
	mu      sync.Mutex
	created []time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{windows: make(map[string]*configWindow)}
}

func (l *rateLimiter) window(configID string) *configWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[configID]
	if !ok {
		w = &configWindow{}
		l.windows[configID] = w
	}
	return w
}

// allowAndRecord atomically checks the configuration's limits and, when
// under them, records the creation. Check and record must be one critical
// section or concurrent firings could both pass the same remaining slot.
func (l *rateLimiter) allowAndRecord(configID string, limit models.RateLimit, now time.Time) bool {
	w := l.window(configID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)

	if limit.MaxAlertsPerHour > 0 && w.countSince(now.Add(-time.Hour)) >= limit.MaxAlertsPerHour {
		return false
	}
	if limit.MaxAlertsPerDay > 0 && len(w.created) >= limit.MaxAlertsPerDay {
		return false
	}
	w.created = append(w.created, now)
	return true
}

// prune drops entries older than the day window, the longest one consulted.
func (w *configWindow) prune(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	keep := w.created[:0]
	for _, t := range w.created {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	w.created = keep
}

func (w *configWindow) countSince(cutoff time.Time) int {
	n := 0
	for _, t := range w.created {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

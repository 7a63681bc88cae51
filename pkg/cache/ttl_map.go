package cache

import (
	"sync"
	"time"
)

// TTLMap is a lightweight in-memory key store with per-entry expiry. The
// alert engine uses it for cooldown and deduplication bookkeeping, where
// losing entries on restart is acceptable.
type TTLMap struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

type entry struct {
	value     string
	expiresAt time.Time
}

// NewTTLMap creates an empty TTL map.
func NewTTLMap() *TTLMap {
	return NewTTLMapWithClock(time.Now)
}

// NewTTLMapWithClock creates a TTL map on an injected clock, so expiry
// can follow simulated time in tests.
func NewTTLMapWithClock(now func() time.Time) *TTLMap {
	if now == nil {
		now = time.Now
	}
	return &TTLMap{data: make(map[string]entry), now: now}
}

// Get retrieves a value if present and not expired.
func (m *TTLMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return "", false
	}
	if m.expired(e) {
		delete(m.data, key)
		return "", false
	}
	return e.value, true
}

// Set stores a value. A ttl of zero means the entry never expires.
func (m *TTLMap) Set(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry{value: value, expiresAt: m.expiry(ttl)}
}

// SetNX stores a value only when the key is absent or expired. It reports
// whether the value was stored, which makes it usable as a cooldown gate:
// the first caller wins and later callers are suppressed until expiry.
func (m *TTLMap) SetNX(key, value string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.data[key]; ok && !m.expired(e) {
		return false
	}
	m.data[key] = entry{value: value, expiresAt: m.expiry(ttl)}
	return true
}

// Delete removes an entry.
func (m *TTLMap) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// Len reports the number of live entries, pruning expired ones.
func (m *TTLMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, e := range m.data {
		if m.expired(e) {
			delete(m.data, k)
		}
	}
	return len(m.data)
}

func (m *TTLMap) expired(e entry) bool {
	return !e.expiresAt.IsZero() && m.now().After(e.expiresAt)
}

func (m *TTLMap) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

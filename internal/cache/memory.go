package cache

import (
	"context"
	"sync"
	"time"
)

// entry is a value with an absolute expiry (zero means no expiry).
type entry struct {
	value  string
	expiry time.Time
}

// MemoryCache is an in-process Cache, used in tests and as the
// degraded-mode object a caller can construct when Redis is
// unreachable at startup (still fail-open in spirit: it just never
// fails).
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]entry)}
}

func (m *MemoryCache) expired(e entry) bool {
	return !e.expiry.IsZero() && time.Now().After(e.expiry)
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || m.expired(e) {
		return "", nil
	}
	return e.value, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry{value: value, expiry: expiryFor(ttl)}
	return nil
}

func (m *MemoryCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.data[key]; ok && !m.expired(e) {
		return false, nil
	}
	m.data[key] = entry{value: value, expiry: expiryFor(ttl)}
	return true, nil
}

func (m *MemoryCache) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	var n int64
	if ok && !m.expired(e) {
		for _, c := range e.value {
			n = n*10 + int64(c-'0')
		}
	}
	n++
	m.data[key] = entry{value: itoa(n), expiry: e.expiry}
	return n, nil
}

func (m *MemoryCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.data[key]; ok {
		e.expiry = expiryFor(ttl)
		m.data[key] = e
	}
	return nil
}

func (m *MemoryCache) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryCache) Ping(_ context.Context) error { return nil }

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

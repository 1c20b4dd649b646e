package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/nshruti113/request-shield/internal/models"
)

type memEntry struct {
	value     string
	counter   int64
	expiresAt time.Time
}

type memBucket struct {
	tokens     float64
	lastRefill float64
	expiresAt  time.Time
}

// MemoryStore implements Store on in-process maps. It is the backend
// for single-node deployments and tests; a horizontally scaled
// deployment needs RedisStore for cross-instance consistency.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	entries   map[string]memEntry
	buckets   map[string]memBucket
	published map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		entries:   make(map[string]memEntry),
		buckets:   make(map[string]memBucket),
		published: make(map[string][][]byte),
	}
}

// SetClock overrides the time source. Test hook.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) live(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) IncrWindow(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		e = memEntry{expiresAt: m.now().Add(ttl)}
	}
	e.counter++
	m.entries[key] = e
	return e.counter, nil
}

func (m *MemoryStore) TakeToken(_ context.Context, key string, capacity, refillPerSec, now float64, ttl time.Duration) (bool, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || (!b.expiresAt.IsZero() && !m.now().Before(b.expiresAt)) {
		b = memBucket{tokens: capacity, lastRefill: now}
	}

	elapsed := now - b.lastRefill
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens = math.Min(capacity, b.tokens+elapsed*refillPerSec)
	b.lastRefill = now

	allowed := false
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		allowed = true
	}

	b.expiresAt = m.now().Add(ttl)
	m.buckets[key] = b
	return allowed, b.tokens, nil
}

func (m *MemoryStore) GetTier(_ context.Context, client string) (models.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(prefixTier + client)
	if !ok {
		return models.TierNormal, nil
	}
	return models.Tier(e.value), nil
}

func (m *MemoryStore) SetTier(_ context.Context, client string, tier models.Tier, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[prefixTier+client] = memEntry{value: string(tier), expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) IncrSuspicious(_ context.Context, client string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := prefixSuspicious + client
	e, ok := m.live(key)
	if !ok {
		e = memEntry{expiresAt: m.now().Add(ttl)}
	}
	e.counter++
	m.entries[key] = e
	return e.counter, nil
}

func (m *MemoryStore) GetSuspicious(_ context.Context, client string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(prefixSuspicious + client)
	if !ok {
		return 0, nil
	}
	return e.counter, nil
}

func (m *MemoryStore) Block(_ context.Context, client string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[prefixBlock+client] = memEntry{value: "1", expiresAt: m.now().Add(duration)}
	return nil
}

func (m *MemoryStore) IsBlocked(_ context.Context, client string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live(prefixBlock + client)
	return ok, nil
}

func (m *MemoryStore) Unblock(_ context.Context, client string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, prefixBlock+client)
	delete(m.entries, prefixSuspicious+client)
	delete(m.entries, prefixTier+client)
	return nil
}

func (m *MemoryStore) PutChallenge(_ context.Context, token, answer string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[prefixChallenge+token] = memEntry{value: answer, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) TakeChallenge(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(prefixChallenge + token)
	if !ok {
		return "", ErrNotFound
	}
	delete(m.entries, prefixChallenge+token)
	return e.value, nil
}

func (m *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.published[channel] = append(m.published[channel], payload)
	return nil
}

// Published returns the payloads sent on a channel. Test hook.
func (m *MemoryStore) Published(channel string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.published[channel]))
	copy(out, m.published[channel])
	return out
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

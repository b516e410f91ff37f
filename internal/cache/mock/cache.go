// Package mock provides an in-memory cache.Cache for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/cache"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

type entry struct {
	value   []byte
	expires time.Time
}

type counter struct {
	n       int64
	expires time.Time
}

// MockCache stores values in a map. Set ErrFunc to make every call fail.
type MockCache struct {
	mu       sync.Mutex
	entries  map[string]entry
	counters map[string]counter
	now      func() time.Time

	ErrFunc func(op string) error
}

var _ cache.Cache = (*MockCache)(nil)

func NewMockCache() *MockCache {
	return &MockCache{entries: map[string]entry{}, counters: map[string]counter{}, now: time.Now}
}

func (m *MockCache) fail(op string) error {
	if m.ErrFunc != nil {
		return m.ErrFunc(op)
	}
	return nil
}

func (m *MockCache) Ping(context.Context) error { return m.fail("ping") }

func (m *MockCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.fail("set"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := m.fail("get"); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || (!e.expires.IsZero() && m.now().After(e.expires)) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *MockCache) Delete(_ context.Context, key string) error {
	if err := m.fail("delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MockCache) PutJob(ctx context.Context, job models.Job, ttl time.Duration) error {
	raw, err := cache.EncodeJob(job)
	if err != nil {
		return err
	}
	return m.Set(ctx, cache.JobKey(job.ID), raw, ttl)
}

func (m *MockCache) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, bool, error) {
	raw, ok, err := m.Get(ctx, cache.JobKey(jobID))
	if err != nil || !ok {
		return nil, false, err
	}
	job, err := cache.DecodeJob(raw)
	return job, err == nil, err
}

func (m *MockCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	if err := m.fail("incr"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[key]
	if !ok || m.now().After(c.expires) {
		c = counter{expires: m.now().Add(expiry)}
	}
	c.n++
	m.counters[key] = c
	return c.n, nil
}

// Keys returns the live keys, for assertions.
func (m *MockCache) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	keys := make([]string, 0, len(m.entries)+len(m.counters))
	for k, e := range m.entries {
		if e.expires.IsZero() || now.Before(e.expires) {
			keys = append(keys, k)
		}
	}
	for k, c := range m.counters {
		if now.Before(c.expires) {
			keys = append(keys, k)
		}
	}
	return keys
}

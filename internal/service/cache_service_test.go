package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-adp-registrar/pkg/errors"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *memoryCache) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := newMemoryCache()
	svc := NewCacheService(repo, NewMetricsService(), time.Minute, nil, true)
	ctx := context.Background()

	var out []string
	assert.False(t, svc.Get(ctx, "registrar:k", &out))

	svc.Set(ctx, "registrar:k", []string{"a", "b"}, 0)
	require.True(t, svc.Get(ctx, "registrar:k", &out))
	assert.Equal(t, []string{"a", "b"}, out)

	svc.Invalidate(ctx, "registrar:*")
	assert.Equal(t, 0, repo.size())
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemoryCache()
	svc := NewCacheService(repo, nil, 0, nil, false)
	svc.Set(context.Background(), "k", 1, 0)
	assert.Equal(t, 0, repo.size())
	assert.False(t, svc.Enabled())
}

func TestCacheServiceErrorIsMiss(t *testing.T) {
	repo := newMemoryCache()
	repo.getErr = errors.New("redis: connection refused")
	svc := NewCacheService(repo, nil, 0, nil, true)

	var out int
	assert.False(t, svc.Get(context.Background(), "k", &out))
}

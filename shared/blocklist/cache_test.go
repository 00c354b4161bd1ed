package blocklist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/storefront-dev/storefront/shared/domain"
	"github.com/storefront-dev/storefront/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStorage struct {
	mu      sync.Mutex
	blocked []domain.IP
	err     error
	// runs inside BlockedIPs, after the read
	during func()
}

func (m *mockStorage) BlockedIPs(context.Context) ([]domain.IP, error) {
	m.mu.Lock()
	ips, err, during := append([]domain.IP(nil), m.blocked...), m.err, m.during
	m.mu.Unlock()
	if during != nil {
		during()
	}
	return ips, err
}

func (m *mockStorage) set(ips ...domain.IP) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = ips
}

func isBlocked(t *testing.T, c *Cache, ip domain.IP) bool {
	t.Helper()
	ok, err := c.IsIPBlocked(context.Background(), ip)
	require.NoError(t, err)
	return ok
}

func TestCache_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces the set", func(t *testing.T) {
		storage := &mockStorage{}
		storage.set("192.0.2.1", "192.0.2.2")
		c := NewCache(storage, logger.Discard())

		require.NoError(t, c.Update(ctx))
		assert.True(t, isBlocked(t, c, "192.0.2.1"))
		assert.True(t, isBlocked(t, c, "192.0.2.2"))
		assert.False(t, isBlocked(t, c, "192.0.2.3"))

		storage.set("192.0.2.3")
		require.NoError(t, c.Update(ctx))
		assert.False(t, isBlocked(t, c, "192.0.2.1"))
		assert.True(t, isBlocked(t, c, "192.0.2.3"))
		assert.Equal(t, 1, c.Len())
	})

	t.Run("error keeps the previous set", func(t *testing.T) {
		storage := &mockStorage{}
		storage.set("192.0.2.1")
		c := NewCache(storage, logger.Discard())
		require.NoError(t, c.Update(ctx))

		storage.err = assert.AnError
		assert.Error(t, c.Update(ctx))
		assert.True(t, isBlocked(t, c, "192.0.2.1"))
	})
}

func TestCache_Set(t *testing.T) {
	storage := &mockStorage{}
	c := NewCache(storage, logger.Discard())

	c.Set("2001:db8::1", true)
	assert.True(t, isBlocked(t, c, "2001:db8::1"))
	c.Set("2001:db8::1", false)
	assert.False(t, isBlocked(t, c, "2001:db8::1"))
}

func TestCache_SetDuringUpdateSurvives(t *testing.T) {
	ctx := context.Background()
	storage := &mockStorage{}
	c := NewCache(storage, logger.Discard())

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	// The snapshot is read before the block lands in storage.
	storage.during = func() {
		clock = clock.Add(time.Second)
		c.Set("198.51.100.7", true)
	}
	require.NoError(t, c.Update(ctx))
	assert.True(t, isBlocked(t, c, "198.51.100.7"))

	// A later refresh that sees storage drops the override.
	storage.during = nil
	clock = clock.Add(time.Second)
	storage.set("198.51.100.7")
	require.NoError(t, c.Update(ctx))
	assert.True(t, isBlocked(t, c, "198.51.100.7"))
	assert.Empty(t, c.overrides)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	storage := &mockStorage{}
	storage.set("192.0.2.1")
	c := NewCache(storage, logger.Discard())
	require.NoError(t, c.Update(context.Background()))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c.IsIPBlocked(context.Background(), "192.0.2.1")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 10 {
			c.Set("192.0.2.9", true)
			_ = c.Update(context.Background())
		}
	}()
	wg.Wait()
}

func TestCache_BackgroundUpdate(t *testing.T) {
	storage := &mockStorage{}
	storage.set("192.0.2.1")
	c := NewCache(storage, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartBackgroundUpdate(ctx, 10*time.Millisecond)

	blocked := func(ip domain.IP) bool {
		ok, _ := c.IsIPBlocked(context.Background(), ip)
		return ok
	}
	assert.Eventually(t, func() bool { return blocked("192.0.2.1") }, time.Second, 5*time.Millisecond)

	storage.set("192.0.2.2")
	assert.Eventually(t, func() bool {
		return blocked("192.0.2.2") && !blocked("192.0.2.1")
	}, time.Second, 5*time.Millisecond)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetNXOnlyWinsOnce(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	first, err := c.SetNX(ctx, "lock:job:nvd.recent:abc", "holder-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := c.SetNX(ctx, "lock:job:nvd.recent:abc", "holder-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, second, "a second caller must not acquire the same lock key")
}

func TestMemoryCacheSetNXReacquiresAfterExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock:enrich:CVE-2024-0001", "x", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = c.SetNX(ctx, "lock:enrich:CVE-2024-0001", "y", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCacheIncrStartsAtOne(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	n, err := c.Incr(ctx, "rate:ip:127.0.0.1:minute:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Incr(ctx, "rate:ip:127.0.0.1:minute:1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryCacheGetMissReturnsEmptyNoError(t *testing.T) {
	c := NewMemoryCache()
	v, err := c.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestMemoryCacheDel(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", time.Minute)
	require.NoError(t, c.Del(ctx, "k"))
	v, _ := c.Get(ctx, "k")
	assert.Equal(t, "", v)
}

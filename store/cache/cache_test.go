package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute})
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", "v")
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Equal(t, int64(1), c.Size())

	c.Delete(ctx, "k")
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Size())
}

func TestCacheExpiry(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute})
	defer c.Close()
	ctx := context.Background()

	c.SetWithTTL(ctx, "k", "v", -time.Second)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCacheMaxItems(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute, MaxItems: 1})
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	_, ok := c.Get(ctx, "b")
	assert.False(t, ok)

	// Overwriting an existing key is always allowed.
	c.Set(ctx, "a", 3)
	v, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCacheClear(t *testing.T) {
	evicted := []string{}
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Minute, OnEviction: func(key string) {
		evicted = append(evicted, key)
	}})
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "a", 1)
	c.Set(ctx, "b", 2)
	c.Clear(ctx)

	assert.Equal(t, int64(0), c.Size())
	assert.Len(t, evicted, 2)
}

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the cache configuration.
type Config struct {
	// DefaultTTL is the default time-to-live for cache entries.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired entries are evicted.
	CleanupInterval time.Duration
	// MaxItems caps the number of cached entries; zero means unlimited.
	MaxItems int
	// OnEviction, when set, is called with the key of each evicted entry.
	OnEviction func(key string)
}

type item struct {
	value     any
	expiresAt time.Time
}

// Cache is an in-memory TTL cache safe for concurrent use.
type Cache struct {
	config Config
	data   sync.Map
	size   atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a new cache and starts its cleanup goroutine.
func New(config Config) *Cache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	c := &Cache{
		config: config,
		stop:   make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	v, ok := c.data.Load(key)
	if !ok {
		return nil, false
	}
	it := v.(*item)
	if time.Now().After(it.expiresAt) {
		c.evict(key)
		return nil, false
	}
	return it.value, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.SetWithTTL(ctx, key, value, c.config.DefaultTTL)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache) SetWithTTL(_ context.Context, key string, value any, ttl time.Duration) {
	if c.config.MaxItems > 0 && c.size.Load() >= int64(c.config.MaxItems) {
		if _, exists := c.data.Load(key); !exists {
			// Cache full and key is new; drop the write rather than grow.
			return
		}
	}
	if _, loaded := c.data.Swap(key, &item{value: value, expiresAt: time.Now().Add(ttl)}); !loaded {
		c.size.Add(1)
	}
}

// Delete removes a value from the cache.
func (c *Cache) Delete(_ context.Context, key string) {
	c.evict(key)
}

// Clear removes all values from the cache.
func (c *Cache) Clear(_ context.Context) {
	c.data.Range(func(key, _ any) bool {
		c.evict(key.(string))
		return true
	})
}

// Size returns the number of cached entries.
func (c *Cache) Size() int64 {
	return c.size.Load()
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	return nil
}

func (c *Cache) evict(key string) {
	if _, loaded := c.data.LoadAndDelete(key); loaded {
		c.size.Add(-1)
		if c.config.OnEviction != nil {
			c.config.OnEviction(key)
		}
	}
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.data.Range(func(key, value any) bool {
				if now.After(value.(*item).expiresAt) {
					c.evict(key.(string))
				}
				return true
			})
		case <-c.stop:
			return
		}
	}
}

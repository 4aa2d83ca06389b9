package cache

import (
	"sync"
	"time"
)

// Options configures a Cache
type Options struct {
	// TTL is the default lifetime of an entry, zero keeps entries forever
	TTL time.Duration
	// PurgeWindow is how often expired entries are swept, zero disables the sweeper
	PurgeWindow time.Duration
	// MaxSize bounds the number of entries, zero means unbounded
	MaxSize int
}

type item[V any] struct {
	value      V
	expiration int64
}

func (i item[V]) expired(now int64) bool {
	return i.expiration > 0 && now > i.expiration
}

// Cache is a thread-safe in-memory cache with expiration
type Cache[K comparable, V any] struct {
	items   map[K]item[V]
	mu      sync.RWMutex
	opts    Options
	stop    chan struct{}
	stopped sync.Once
	now     func() time.Time
}

// New creates a cache and starts its sweeper when a purge window is set
func New[K comparable, V any](opts Options) *Cache[K, V] {
	c := &Cache[K, V]{
		items: make(map[K]item[V]),
		opts:  opts,
		stop:  make(chan struct{}),
		now:   time.Now,
	}

	if opts.PurgeWindow > 0 {
		go c.startCleanupTimer()
	}

	return c
}

// Set adds an item to the cache with the default expiration
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithExpiration(key, value, c.opts.TTL)
}

// SetWithExpiration adds an item to the cache with a specific expiration time
func (c *Cache[K, V]) SetWithExpiration(key K, value V, d time.Duration) {
	var exp int64
	if d > 0 {
		exp = c.now().Add(d).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.opts.MaxSize > 0 && len(c.items) >= c.opts.MaxSize {
		c.evictOldest()
	}

	c.items[key] = item[V]{value: value, expiration: exp}
}

// Get retrieves an item from the cache
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, found := c.items[key]
	if !found || it.expired(c.now().UnixNano()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Delete removes an item from the cache
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Flush removes all items from the cache
func (c *Cache[K, V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]item[V])
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache[K, V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the sweeper goroutine
func (c *Cache[K, V]) Close() {
	c.stopped.Do(func() { close(c.stop) })
}

func (c *Cache[K, V]) startCleanupTimer() {
	ticker := time.NewTicker(c.opts.PurgeWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[K, V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixNano()
	for k, v := range c.items {
		if v.expired(now) {
			delete(c.items, k)
		}
	}
}

// evictOldest removes the entry closest to expiry; entries without expiry go last
func (c *Cache[K, V]) evictOldest() {
	var (
		oldestKey K
		oldestExp int64
		found     bool
	)
	for k, v := range c.items {
		if !found || (v.expiration != 0 && (oldestExp == 0 || v.expiration < oldestExp)) {
			oldestKey = k
			oldestExp = v.expiration
			found = true
		}
	}
	if found {
		delete(c.items, oldestKey)
	}
}

// cache/memory.go
package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	logger "github.com/aegis-authz/aegis/logging"
)

// MemoryPermissionCache is the process-local PermissionCache. Entries
// expire lazily on Get and are actively evicted by the sweeper. Memory is
// bounded only by the number of distinct identities seen within the TTL.
type MemoryPermissionCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration

	now func() time.Time
}

func NewMemoryPermissionCache(ttl time.Duration) *MemoryPermissionCache {
	return &MemoryPermissionCache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryPermissionCache) Get(ctx context.Context, identityID string) (Entry, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[identityID]
	c.mu.RUnlock()

	if !ok {
		return Entry{}, false, nil
	}
	if c.expired(entry) {
		// Equivalent to absent; leave actual removal to the sweeper.
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *MemoryPermissionCache) Set(ctx context.Context, identityID string, entry Entry) error {
	c.mu.Lock()
	c.entries[identityID] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryPermissionCache) Delete(ctx context.Context, identityID string) error {
	c.mu.Lock()
	delete(c.entries, identityID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryPermissionCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
	return nil
}

// SweepExpired removes every expired entry and returns how many were evicted.
func (c *MemoryPermissionCache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for id, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, id)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs SweepExpired on the given interval until ctx is done.
func (c *MemoryPermissionCache) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.SweepExpired(); n > 0 {
					logger.Debug("Swept expired permission cache entries", zap.Int("evicted", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *MemoryPermissionCache) expired(entry Entry) bool {
	return c.now().Sub(entry.ComputedAt) > c.ttl
}

// MemoryOwnershipCache is a bounded TTL cache for ownership verdicts built
// on an expirable LRU, so a burst of distinct resources cannot grow memory
// without limit.
type MemoryOwnershipCache struct {
	cache *lru.LRU[string, bool]
}

func NewMemoryOwnershipCache(size int, ttl time.Duration) *MemoryOwnershipCache {
	if size <= 0 {
		size = 4096
	}
	return &MemoryOwnershipCache{
		cache: lru.NewLRU[string, bool](size, nil, ttl),
	}
}

func (c *MemoryOwnershipCache) Get(ctx context.Context, key OwnershipKey) (bool, bool, error) {
	isOwner, ok := c.cache.Get(key.String())
	return isOwner, ok, nil
}

func (c *MemoryOwnershipCache) Set(ctx context.Context, key OwnershipKey, isOwner bool) error {
	c.cache.Add(key.String(), isOwner)
	return nil
}

type failureEntry struct {
	count       int64
	windowStart time.Time
	window      time.Duration
}

// MemoryFailureCounter guards its read-modify-write with a mutex so the
// increment-and-check is atomic within the process.
type MemoryFailureCounter struct {
	mu      sync.Mutex
	entries map[string]failureEntry

	now func() time.Time
}

func NewMemoryFailureCounter() *MemoryFailureCounter {
	return &MemoryFailureCounter{
		entries: make(map[string]failureEntry),
		now:     time.Now,
	}
}

func (c *MemoryFailureCounter) Fail(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.entries[key]
	if !ok || now.Sub(entry.windowStart) > entry.window {
		entry = failureEntry{windowStart: now, window: window}
	}
	entry.count++
	c.entries[key] = entry
	return entry.count, nil
}

func (c *MemoryFailureCounter) Count(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return 0, nil
	}
	if c.now().Sub(entry.windowStart) > entry.window {
		delete(c.entries, key)
		return 0, nil
	}
	return entry.count, nil
}

func (c *MemoryFailureCounter) Reset(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
)

// Cache provides thread-safe in-memory caching with TTL, keyed by service
// URL. Entries are read-only once populated; population is guarded per key
// so concurrent first access fetches exactly once.
type Cache struct {
	entries  map[string]*Entry
	inFlight map[string]*sync.Mutex
	mutex    sync.RWMutex
}

// Entry represents a cached item with metadata.
type Entry struct {
	Key       string        `json:"key"`
	Data      []byte        `json:"data"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	TTL       time.Duration `json:"ttl"`
}

// NewCache creates a new in-memory cache.
func NewCache() *Cache {
	return &Cache{
		entries:  make(map[string]*Entry),
		inFlight: make(map[string]*sync.Mutex),
	}
}

// Set stores data in cache with the given TTL.
func (c *Cache) Set(key string, data interface{}, ttl time.Duration) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data for cache: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		Key:       key,
		Data:      jsonData,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		TTL:       ttl,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = entry
	return nil
}

// Get retrieves data from cache if not stale.
func (c *Cache) Get(key string, result interface{}) (bool, error) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		return false, nil
	}

	if err := json.Unmarshal(entry.Data, result); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return true, nil
}

// GetOrPopulate returns the cached value for key, or runs populate to fill
// it. Concurrent callers for the same key serialize on a per-key guard, so
// only one populate runs; a failed populate caches nothing and the error is
// returned to every waiter that triggered it.
func (c *Cache) GetOrPopulate(ctx context.Context, key string, ttl time.Duration,
	result interface{}, populate func(ctx context.Context) (interface{}, error)) error {

	if found, err := c.Get(key, result); err != nil {
		return err
	} else if found {
		return nil
	}

	guard := c.keyGuard(key)
	guard.Lock()
	defer guard.Unlock()

	// Another caller may have populated while we waited on the guard.
	if found, err := c.Get(key, result); err != nil {
		return err
	} else if found {
		return nil
	}

	value, err := populate(ctx)
	if err != nil {
		return err
	}
	if err := c.Set(key, value, ttl); err != nil {
		return err
	}
	return c.unmarshalInto(value, result)
}

func (c *Cache) keyGuard(key string) *sync.Mutex {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	guard, ok := c.inFlight[key]
	if !ok {
		guard = &sync.Mutex{}
		c.inFlight[key] = guard
	}
	return guard
}

// unmarshalInto copies value into result through JSON, matching what a
// later Get would return.
func (c *Cache) unmarshalInto(value, result interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal populated value: %w", err)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to unmarshal populated value: %w", err)
	}
	return nil
}

// IsStale checks if a cache entry is stale (past expiration).
func (c *Cache) IsStale(key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return true
	}
	return time.Now().After(entry.ExpiresAt)
}

// CleanupStale removes all stale entries from cache.
func (c *Cache) CleanupStale() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	var removed int

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartPeriodicCleanup starts a goroutine that periodically cleans up stale
// entries.
func (c *Cache) StartPeriodicCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		defer func() {
			// Recover from any panics in the cache cleanup goroutine
			if r := recover(); r != nil {
				err, _ := errors.ParseStack(debug.Stack())
				skipFrames := 3
				numFrames := 5
				logging.Errorw(ctx, "Cache cleanup: recovered from panic",
					"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.CleanupStale(); removed > 0 {
					logging.Infow(ctx, "Cache cleanup removed stale descriptors", "removed", removed)
				}
			}
		}
	}()
}

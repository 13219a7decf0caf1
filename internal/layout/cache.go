package layout

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/simonhull/bfio/internal/metrics"
	"github.com/simonhull/bfio/internal/types"
)

// Cache holds decoded chunks keyed by image and chunk coordinate. Cached
// buffers are shared and must never be mutated.
type Cache struct {
	c       *ristretto.Cache[string, []byte]
	metrics metrics.Recorder

	// gens counts purges per image prefix.
	gens map[string]uint64
	mu   sync.Mutex
}

// live tracks open caches so a new image can evict its predecessor from
// caches it was not configured with.
var live = struct {
	caches map[*Cache]struct{}
	mu     sync.Mutex
}{caches: make(map[*Cache]struct{})}

// PurgeAll purges prefix from every open cache.
func PurgeAll(prefix string) {
	live.mu.Lock()
	defer live.mu.Unlock()
	for c := range live.caches {
		c.Purge(prefix)
	}
}

// NewCache returns a cache bounded to maxBytes of decoded chunk data.
func NewCache(maxBytes int64, rec metrics.Recorder) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("%w: cache size must be positive", types.ErrInvalidArgument)
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Roughly 10x the expected number of resident 64 KiB chunks.
		NumCounters: max(maxBytes/(64<<10)*10, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create chunk cache: %w", err)
	}
	cache := &Cache{c: c, metrics: rec, gens: make(map[string]uint64)}
	live.mu.Lock()
	live.caches[cache] = struct{}{}
	live.mu.Unlock()
	return cache, nil
}

// Key returns the entry name of chunk under prefix in the prefix's current
// generation.
func (c *Cache) Key(prefix, chunk string) string {
	c.mu.Lock()
	gen := c.gens[prefix]
	c.mu.Unlock()
	return prefix + "@" + strconv.FormatUint(gen, 10) + "/" + chunk
}

// Purge makes every entry under prefix unreachable. Orphaned entries are
// reclaimed by normal eviction.
func (c *Cache) Purge(prefix string) {
	c.mu.Lock()
	c.gens[prefix]++
	c.mu.Unlock()
}

// Get returns a cached chunk.
func (c *Cache) Get(key string) ([]byte, bool) {
	v, ok := c.c.Get(key)
	c.metrics.ObserveCache(ok)
	return v, ok
}

// Set stores a chunk; admission is best-effort.
func (c *Cache) Set(key string, chunk []byte) {
	c.c.Set(key, chunk, int64(len(chunk)))
}

// Delete evicts key.
func (c *Cache) Delete(key string) {
	c.c.Del(key)
}

// Wait blocks until buffered sets are applied.
func (c *Cache) Wait() {
	c.c.Wait()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	live.mu.Lock()
	delete(live.caches, c)
	live.mu.Unlock()
	c.c.Close()
}

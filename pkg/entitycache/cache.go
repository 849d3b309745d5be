package entitycache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"abilico-inference/internal/pkg/logger"
	"abilico-inference/pkg/entity"
	"abilico-inference/pkg/store"
)

// Cache is the two-tier per-entity prediction cache: a bounded in-memory
// tier split by domain (roads see far more traffic than places) in front of
// the shared persistent tier.
//
// Memory reads use Peek, not Get, so recency is never updated and eviction
// always removes the least-recently-inserted entry.
type Cache struct {
	roads   *lru.Cache[string, *store.PredictionEntry]
	places  *lru.Cache[string, *store.PredictionEntry]
	persist store.PredictionStore
	log     logger.ILogger

	mu      sync.RWMutex
	version string
}

func New(persist store.PredictionStore, roadCapacity, placeCapacity int, log logger.ILogger) (*Cache, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	roads, err := lru.New[string, *store.PredictionEntry](roadCapacity)
	if err != nil {
		return nil, err
	}
	places, err := lru.New[string, *store.PredictionEntry](placeCapacity)
	if err != nil {
		return nil, err
	}
	return &Cache{roads: roads, places: places, persist: persist, log: log}, nil
}

// SetSchemaVersion stamps the cache. Entries carrying a different version are
// treated as misses from that point on.
func (c *Cache) SetSchemaVersion(v string) {
	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
}

func (c *Cache) SchemaVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Cache) tierFor(key string) *lru.Cache[string, *store.PredictionEntry] {
	if DomainOfKey(key) == entity.DomainRoad {
		return c.roads
	}
	return c.places
}

func (c *Cache) validEntry(e *store.PredictionEntry) bool {
	if e == nil {
		return false
	}
	v := c.SchemaVersion()
	return v == "" || e.SchemaVersion == v
}

// GetOne checks memory first, then the persistent tier; a persistent hit
// populates memory.
func (c *Cache) GetOne(ctx context.Context, key string) *store.PredictionEntry {
	if entry, ok := c.tierFor(key).Peek(key); ok && c.validEntry(entry) {
		return entry
	}
	hits := c.persistentGet(ctx, []string{key})
	return hits[key]
}

// GetMany checks the memory tier for every key, then issues one bulk
// persistent lookup for the misses. Every persistent hit populates memory.
func (c *Cache) GetMany(ctx context.Context, keys []string) map[string]*store.PredictionEntry {
	found := make(map[string]*store.PredictionEntry, len(keys))
	var misses []string
	for _, key := range keys {
		if entry, ok := c.tierFor(key).Peek(key); ok && c.validEntry(entry) {
			found[key] = entry
		} else {
			misses = append(misses, key)
		}
	}
	if len(misses) == 0 {
		return found
	}
	for key, entry := range c.persistentGet(ctx, misses) {
		found[key] = entry
	}
	return found
}

func (c *Cache) persistentGet(ctx context.Context, keys []string) map[string]*store.PredictionEntry {
	if c.persist == nil {
		return nil
	}
	entries, err := c.persist.GetMany(ctx, keys)
	if err != nil {
		// Store failures degrade the cache, they never fail a lookup.
		c.log.Warn("PredictionCache", "persistent read failed", map[string]interface{}{
			"keys": len(keys), "error": err.Error(),
		})
		return nil
	}
	hits := make(map[string]*store.PredictionEntry, len(entries))
	for key, entry := range entries {
		if !c.validEntry(entry) {
			continue
		}
		c.tierFor(key).Add(key, entry)
		hits[key] = entry
	}
	return hits
}

// PutMany writes every entry to memory and to the persistent tier. A
// persistent write failure is logged and returned, but memory is already
// populated; the next visit simply recomputes.
func (c *Cache) PutMany(ctx context.Context, entries []*store.PredictionEntry) error {
	for _, entry := range entries {
		c.tierFor(entry.Key).Add(entry.Key, entry)
	}
	if c.persist == nil {
		return nil
	}
	if err := c.persist.PutMany(ctx, entries); err != nil {
		c.log.Warn("PredictionCache", "persistent write failed", map[string]interface{}{
			"entries": len(entries), "error": err.Error(),
		})
		return err
	}
	return nil
}

// Clear empties the memory tier synchronously and the persistent tier through
// its own clear path.
func (c *Cache) Clear(ctx context.Context) error {
	c.roads.Purge()
	c.places.Purge()
	if c.persist == nil {
		return nil
	}
	return c.persist.Clear(ctx)
}

// DropMemory empties only the memory tier. Used when another instance
// cleared the shared persistent store.
func (c *Cache) DropMemory() {
	c.roads.Purge()
	c.places.Purge()
}

// MemoryLen reports the in-memory entry counts, for diagnostics.
func (c *Cache) MemoryLen() (roads, places int) {
	return c.roads.Len(), c.places.Len()
}

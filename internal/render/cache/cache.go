// Package cache provides the per-element bitmap cache used by the render
// orchestrator.
//
// Entries are keyed by element uid and never expire on a timer. They are
// removed only by Invalidate, which the orchestrator calls with the
// effected uids of every history transition, or by capacity eviction. A
// missing entry means "rasterize again and Put the result".
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gg"
)

// Entry is one cached element bitmap.
type Entry struct {
	// ElementUID is the element the bitmap was rendered from.
	ElementUID string

	// Pixmap is the rendered bitmap at artboard size.
	Pixmap *gg.Pixmap

	// Version is the cache version the entry was computed against.
	Version uint64

	// LastAccess tracks when this entry was last used.
	LastAccess time.Time
}

// Config configures the cache.
type Config struct {
	// Capacity is the maximum number of cached bitmaps.
	Capacity int

	// EvictionBatchSize is the number of extra entries evicted when the
	// cache overflows.
	EvictionBatchSize int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:          256,
		EvictionBatchSize: 16,
	}
}

// Cache maps element uids to rendered bitmaps.
type Cache struct {
	mu sync.RWMutex

	config  Config
	entries map[string]*Entry

	// version advances on InvalidateAll so that renders started before it
	// cannot repopulate the cache with stale bitmaps.
	version uint64
	// pending counts invalidations per uid since the last InvalidateAll.
	pending map[string]uint64

	hits          atomic.Uint64
	misses        atomic.Uint64
	evictions     atomic.Uint64
	invalidations atomic.Uint64
}

// New creates an empty cache.
func New(config Config) *Cache {
	def := DefaultConfig()
	if config.Capacity <= 0 {
		config.Capacity = def.Capacity
	}
	if config.EvictionBatchSize <= 0 {
		config.EvictionBatchSize = def.EvictionBatchSize
	}
	return &Cache{
		config:  config,
		entries: make(map[string]*Entry),
		pending: make(map[string]uint64),
	}
}

// Get returns the cached bitmap for uid.
func (c *Cache) Get(uid string) (*gg.Pixmap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[uid]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e.LastAccess = time.Now()
	c.hits.Add(1)
	return e.Pixmap, true
}

// Ticket identifies the cache state a render started from. Put only stores
// a bitmap if nothing invalidated its uid since the ticket was taken.
type Ticket struct {
	version uint64
	epoch   uint64
}

// Begin returns a ticket for rendering uid.
func (c *Cache) Begin(uid string) Ticket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Ticket{version: c.version, epoch: c.pending[uid]}
}

// Put stores pm for uid. It reports false and stores nothing if uid was
// invalidated after t was taken.
func (c *Cache) Put(uid string, pm *gg.Pixmap, t Ticket) bool {
	if pm == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.version != c.version || t.epoch != c.pending[uid] {
		return false
	}
	c.entries[uid] = &Entry{
		ElementUID: uid,
		Pixmap:     pm,
		Version:    c.version,
		LastAccess: time.Now(),
	}
	c.evictIfNeeded(uid)
	return true
}

// GetOrRender returns the cached bitmap for uid, or calls render outside
// the lock and caches its result.
func (c *Cache) GetOrRender(uid string, render func() (*gg.Pixmap, error)) (*gg.Pixmap, error) {
	if pm, ok := c.Get(uid); ok {
		return pm, nil
	}
	t := c.Begin(uid)
	pm, err := render()
	if err != nil {
		return nil, err
	}
	c.Put(uid, pm, t)
	return pm, nil
}

// Invalidate removes the entries for uids and returns how many were cached.
func (c *Cache) Invalidate(uids ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, uid := range uids {
		c.pending[uid]++
		if _, ok := c.entries[uid]; ok {
			delete(c.entries, uid)
			removed++
		}
	}
	c.invalidations.Add(uint64(len(uids)))
	return removed
}

// InvalidateAll clears the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.pending = make(map[string]uint64)
	c.version++
}

// Contains reports whether uid is cached without touching its access time.
func (c *Cache) Contains(uid string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[uid]
	return ok
}

// Len returns the number of cached bitmaps.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Resize changes the capacity, evicting if needed.
func (c *Cache) Resize(capacity int) {
	if capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.Capacity = capacity
	c.evictIfNeeded("")
}

// evictIfNeeded evicts the least recently used entries in one batch. keep is
// never evicted. The batch never empties the cache below one entry.
func (c *Cache) evictIfNeeded(keep string) {
	if len(c.entries) <= c.config.Capacity {
		return
	}

	type entryInfo struct {
		uid    string
		access time.Time
	}
	infos := make([]entryInfo, 0, len(c.entries))
	for uid, e := range c.entries {
		if uid != keep {
			infos = append(infos, entryInfo{uid, e.LastAccess})
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].access.Before(infos[j].access)
	})

	toEvict := len(c.entries) - c.config.Capacity + min(c.config.EvictionBatchSize, c.config.Capacity-1)
	if toEvict > len(infos) {
		toEvict = len(infos)
	}
	for i := 0; i < toEvict; i++ {
		delete(c.entries, infos[i].uid)
	}
	c.evictions.Add(uint64(toEvict))
}

// Stats holds cache statistics.
type Stats struct {
	Size          int
	Capacity      int
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
	HitRate       float64
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size:          len(c.entries),
		Capacity:      c.config.Capacity,
		Hits:          hits,
		Misses:        misses,
		Evictions:     c.evictions.Load(),
		Invalidations: c.invalidations.Load(),
		HitRate:       hitRate,
	}
}

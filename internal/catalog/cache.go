package catalog

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultCacheSize bounds the number of cached lookups.
	DefaultCacheSize = 1000
	// DefaultCacheTTL is how long a cached lookup stays fresh.
	DefaultCacheTTL = 5 * time.Minute

	reloadTimeout = 10 * time.Second
)

// cacheValue is one cached lookup result. Exactly one of def/cands is
// meaningful depending on the key kind; a nil def under a name key is a
// negative cache entry.
type cacheValue struct {
	def     *ToolDefinition
	cands   []Candidate
	fetched time.Time
}

type lruItem struct {
	key string
	val cacheValue
}

// lruCache is a size-bounded LRU with TTL freshness. Expired entries are
// kept until evicted by capacity so the catalog can serve last-known-good
// values during a store outage.
type lruCache struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	items map[string]*list.Element
	order *list.List // front = most recently used
}

func newLRUCache(max int, ttl time.Duration) *lruCache {
	return &lruCache{
		max:   max,
		ttl:   ttl,
		items: make(map[string]*list.Element, max),
		order: list.New(),
	}
}

// get returns the cached value, whether it is still within TTL, and
// whether any value was present at all.
func (c *lruCache) get(key string) (val cacheValue, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return cacheValue{}, false, false
	}
	c.order.MoveToFront(el)
	item := el.Value.(*lruItem)
	return item.val, time.Since(item.val.fetched) < c.ttl, true
}

func (c *lruCache) set(key string, val cacheValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruItem).val = val
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&lruItem{key: key, val: val})
	for len(c.items) > c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruItem).key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CachedCatalog fronts a Store with a bounded LRU+TTL cache. Reload
// builds a complete replacement cache and swaps it atomically, so
// readers never observe a half-updated candidate set and never block on
// a refresh in progress.
type CachedCatalog struct {
	store  Store
	size   int
	ttl    time.Duration
	cache  atomic.Pointer[lruCache]
	logger *zap.Logger
}

// CachedCatalogConfig configures the CachedCatalog.
type CachedCatalogConfig struct {
	Store  Store
	Size   int           // 0 = DefaultCacheSize
	TTL    time.Duration // 0 = DefaultCacheTTL
	Logger *zap.Logger
}

// NewCachedCatalog creates a cached catalog starting from an empty cache.
func NewCachedCatalog(cfg CachedCatalogConfig) *CachedCatalog {
	size := cfg.Size
	if size == 0 {
		size = DefaultCacheSize
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	c := &CachedCatalog{
		store:  cfg.Store,
		size:   size,
		ttl:    ttl,
		logger: cfg.Logger,
	}
	c.cache.Store(newLRUCache(size, ttl))
	return c
}

func nameKey(name string) string {
	return "name:" + name
}

func candKey(capability, platform string) string {
	return "cap:" + capability + ":" + platform
}

// GetByName returns the latest active version of a tool. On a store
// failure the last-known-good value is served with stale=true; without
// one the call fails with ErrUnavailable.
func (c *CachedCatalog) GetByName(ctx context.Context, name string) (*ToolDefinition, bool, error) {
	cache := c.cache.Load()
	key := nameKey(name)

	val, fresh, ok := cache.get(key)
	if ok && fresh {
		return val.def, false, nil
	}

	def, err := c.store.GetByName(ctx, name)
	if err != nil {
		if ok {
			c.logger.Warn("catalog store read failed, serving stale tool",
				zap.String("tool", name),
				zap.Error(err),
			)
			return val.def, true, nil
		}
		c.logger.Error("catalog store read failed, no cached value",
			zap.String("tool", name),
			zap.Error(err),
		)
		return nil, false, ErrUnavailable
	}

	cache.set(key, cacheValue{def: def, fetched: time.Now()})
	return def, false, nil
}

// GetCandidates returns candidates for a capability with the same
// stale-on-outage semantics as GetByName.
func (c *CachedCatalog) GetCandidates(ctx context.Context, capability, platform string) ([]Candidate, bool, error) {
	cache := c.cache.Load()
	key := candKey(capability, platform)

	val, fresh, ok := cache.get(key)
	if ok && fresh {
		return val.cands, false, nil
	}

	cands, err := c.store.GetCandidates(ctx, capability, platform)
	if err != nil {
		if ok {
			c.logger.Warn("catalog store read failed, serving stale candidates",
				zap.String("capability", capability),
				zap.Error(err),
			)
			return val.cands, true, nil
		}
		c.logger.Error("catalog store read failed, no cached candidates",
			zap.String("capability", capability),
			zap.Error(err),
		)
		return nil, false, ErrUnavailable
	}

	cache.set(key, cacheValue{cands: cands, fetched: time.Now()})
	return cands, false, nil
}

// Reload loads every active definition and publishes a fully rebuilt
// cache in one atomic swap. On failure the previous cache stays in
// service untouched.
func (c *CachedCatalog) Reload(ctx context.Context) error {
	defs, err := c.store.LoadActive(ctx)
	if err != nil {
		c.logger.Error("catalog reload failed, keeping previous cache", zap.Error(err))
		return ErrUnavailable
	}

	now := time.Now()
	fresh := newLRUCache(c.size, c.ttl)
	byCap := make(map[string][]Candidate)
	for _, def := range defs {
		fresh.set(nameKey(def.Name), cacheValue{def: def, fetched: now})
		for capability := range def.Capabilities {
			cands := expand(def, capability)
			byCap[candKey(capability, "")] = append(byCap[candKey(capability, "")], cands...)
			byCap[candKey(capability, def.Platform)] = append(byCap[candKey(capability, def.Platform)], cands...)
		}
	}
	for key, cands := range byCap {
		sortCandidates(cands)
		fresh.set(key, cacheValue{cands: cands, fetched: now})
	}

	c.cache.Store(fresh)
	c.logger.Info("catalog cache reloaded",
		zap.Int("tools", len(defs)),
		zap.Int("entries", fresh.len()),
	)
	return nil
}

// StartRefresher reloads the cache on the given interval until ctx is
// cancelled. A failed reload keeps the previous snapshot in service.
func (c *CachedCatalog) StartRefresher(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				reloadCtx, cancel := context.WithTimeout(ctx, reloadTimeout)
				_ = c.Reload(reloadCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// Cache sizing defaults for high-traffic deployments.
const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Size          int           `json:"size"`
	MaxSize       int           `json:"max_size"`
	TTL           time.Duration `json:"ttl"`
	Hits          int64         `json:"hits"`
	Misses        int64         `json:"misses"`
	HitRate       float64       `json:"hit_rate"`
	TotalRequests int64         `json:"total_requests"`
}

// SessionCache is a TTL-bounded LRU over session presence lookups, shared
// across managers to absorb repeated existence checks in request-per-session
// services.
type SessionCache struct {
	lru     *expirable.LRU[string, SessionPresence]
	maxSize int
	ttl     time.Duration
	hits    atomic.Int64
	misses  atomic.Int64
	log     *logger.Logger
}

// NewSessionCache builds a cache holding at most maxSize entries, each
// expiring ttl after insertion. Values at or below zero fall back to the
// defaults.
func NewSessionCache(maxSize int, ttl time.Duration, log *logger.Logger) *SessionCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = logger.Default()
	}
	log.Info("session cache initialized",
		zap.Int("max_size", maxSize),
		zap.Duration("ttl", ttl))
	return &SessionCache{
		lru:     expirable.NewLRU[string, SessionPresence](maxSize, nil, ttl),
		maxSize: maxSize,
		ttl:     ttl,
		log:     log,
	}
}

// Get returns a copy of the cached presence, or (nil, false) on a miss or
// expired entry.
func (c *SessionCache) Get(key string) (*SessionPresence, bool) {
	presence, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return clonePresence(presence), true
}

// Put stores a copy of the presence under the key.
func (c *SessionCache) Put(key string, presence *SessionPresence) {
	if presence == nil {
		return
	}
	c.lru.Add(key, *clonePresence(*presence))
}

// Invalidate drops one entry.
func (c *SessionCache) Invalidate(key string) {
	c.lru.Remove(key)
}

// Clear drops every entry and resets the counters.
func (c *SessionCache) Clear() {
	c.lru.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats reports size and hit rate.
func (c *SessionCache) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	stats := CacheStats{
		Size:          c.lru.Len(),
		MaxSize:       c.maxSize,
		TTL:           c.ttl,
		Hits:          hits,
		Misses:        misses,
		TotalRequests: total,
	}
	if total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

func clonePresence(p SessionPresence) *SessionPresence {
	clone := p
	if p.AgentIDs != nil {
		clone.AgentIDs = append([]string(nil), p.AgentIDs...)
	}
	return &clone
}

var (
	globalCacheOnce sync.Once
	globalCache     *SessionCache
)

// GlobalSessionCache returns the process-wide presence cache, creating it
// with default sizing on first use.
func GlobalSessionCache() *SessionCache {
	globalCacheOnce.Do(func() {
		globalCache = NewSessionCache(DefaultCacheSize, DefaultCacheTTL, nil)
	})
	return globalCache
}

// CachedManager layers the presence cache over a Manager. All other
// operations pass straight through to the embedded manager.
type CachedManager struct {
	*Manager
	cache *SessionCache
}

// NewCachedManager wraps the manager. A nil cache uses the global one.
func NewCachedManager(manager *Manager, cache *SessionCache) *CachedManager {
	if cache == nil {
		cache = GlobalSessionCache()
	}
	return &CachedManager{Manager: manager, cache: cache}
}

// Cache exposes the underlying cache, mainly for stats endpoints.
func (cm *CachedManager) Cache() *SessionCache {
	return cm.cache
}

// CheckSessionExists consults the cache before the store. Only positive
// results are cached, so a session created moments later is observed
// immediately.
func (cm *CachedManager) CheckSessionExists(ctx context.Context, agentID string) (*SessionPresence, error) {
	key := cm.cacheKey(agentID)
	if presence, ok := cm.cache.Get(key); ok {
		cm.log.Debug("session presence cache hit", zap.String("cache_key", key))
		return presence, nil
	}

	presence, err := cm.Manager.CheckSessionExists(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if presence.Exists {
		cm.cache.Put(key, presence)
	}
	return presence, nil
}

// InvalidateCache drops this session's cached presence entries, including
// the per-agent ones.
func (cm *CachedManager) InvalidateCache(ctx context.Context) {
	cm.cache.Invalidate(cm.cacheKey(""))

	agentIDs, err := cm.store.AgentIDs(ctx, cm.sessionID)
	if err != nil {
		cm.log.Warn("failed to list agents for cache invalidation", zap.Error(err))
		return
	}
	for _, agentID := range agentIDs {
		cm.cache.Invalidate(cm.cacheKey(agentID))
	}
}

func (cm *CachedManager) cacheKey(agentID string) string {
	if agentID == "" {
		agentID = "all"
	}
	return cm.sessionID + ":" + agentID
}

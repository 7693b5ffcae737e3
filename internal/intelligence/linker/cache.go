package linker

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/types/medical"
)

// DefaultCacheTTL bounds how long a link result is reused.
const DefaultCacheTTL = time.Hour

// DefaultCacheCapacity bounds the number of cached results.
const DefaultCacheCapacity = 10000

// SecondLevel is a shared result store behind the in-process cache, e.g.
// Redis. Errors are logged by the linker and never fail a link.
type SecondLevel interface {
	GetLink(ctx context.Context, key string) (medical.LinkResult, bool, error)
	SetLink(ctx context.Context, key string, result medical.LinkResult, ttl time.Duration) error
}

// resultCache is the in-process cache keyed by entity type and folded text.
type resultCache struct {
	items *ttlcache.Cache[string, medical.LinkResult]
	ttl   time.Duration
}

func newResultCache(ttl time.Duration, capacity uint64) *resultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if capacity == 0 {
		capacity = DefaultCacheCapacity
	}
	c := ttlcache.New(
		ttlcache.WithTTL[string, medical.LinkResult](ttl),
		ttlcache.WithCapacity[string, medical.LinkResult](capacity),
		ttlcache.WithDisableTouchOnHit[string, medical.LinkResult](),
	)
	go c.Start()
	return &resultCache{items: c, ttl: ttl}
}

func (c *resultCache) get(key string) (medical.LinkResult, bool) {
	if item := c.items.Get(key); item != nil {
		return item.Value(), true
	}
	return medical.LinkResult{}, false
}

func (c *resultCache) set(key string, r medical.LinkResult) {
	c.items.Set(key, r, ttlcache.DefaultTTL)
}

func (c *resultCache) len() int { return c.items.Len() }

func (c *resultCache) stop() { c.items.Stop() }

// cacheKey hashes the entity type and folded text.
func cacheKey(t medical.EntityType, folded string) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(t))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(folded)
	return strconv.FormatUint(h.Sum64(), 16)
}

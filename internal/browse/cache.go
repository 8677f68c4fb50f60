package browse

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openshelf/browsedex/pkg/types"
)

// cacheEntry pins a cached page to the index generation it was computed
// against. A page from an older generation is stale and never served.
type cacheEntry struct {
	gen  int64
	page types.BrowseResultPage
}

// resultCache is a bounded LRU of assembled browse pages, keyed by the
// scope fingerprint. Invalidation is by generation check at read time, so
// index writes never have to touch the cache.
type resultCache struct {
	lru *lru.Cache[string, cacheEntry]
}

func newResultCache(size int) (*resultCache, error) {
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("creating result cache: %w", err)
	}
	return &resultCache{lru: c}, nil
}

// get returns a copy of the cached page for the key if it was computed at
// the given generation. Stale entries are evicted on sight.
func (c *resultCache) get(key string, gen int64) (*types.BrowseResultPage, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if e.gen != gen {
		c.lru.Remove(key)
		return nil, false
	}
	page := e.page
	page.Cached = true
	return &page, true
}

// put stores the page under the key at the given generation.
func (c *resultCache) put(key string, gen int64, page types.BrowseResultPage) {
	page.Cached = false
	c.lru.Add(key, cacheEntry{gen: gen, page: page})
}

package summary

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/xraph/feeledger/id"
	"github.com/xraph/feeledger/types"
)

// Cache is a bounded read cache of summaries. It is a read optimization
// only: callers invalidate it on every ledger append and never consult it
// for correctness checks.
//
// A fill that started before an invalidation is discarded, so a slow reader
// cannot resurrect a summary computed from a superseded ledger.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache
	version uint64
}

// NewCache creates a cache holding at most size summaries. A size of zero
// or less disables caching.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return &Cache{}, nil
	}
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached summary for sfID when it was computed for today.
func (c *Cache) Get(sfID id.StudentFeeID, today time.Time) (*StudentFeeSummary, bool) {
	if c.lru == nil {
		return nil, false
	}
	v, ok := c.lru.Get(sfID.String())
	if !ok {
		return nil, false
	}
	s, ok := v.(*StudentFeeSummary)
	if !ok || !s.AsOf.Equal(types.Date(today)) {
		return nil, false
	}
	return s, true
}

// Begin returns the version token a reader must pass to Put.
func (c *Cache) Begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Put stores s unless an invalidation happened since Begin returned version.
func (c *Cache) Put(version uint64, s *StudentFeeSummary) bool {
	if c.lru == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if version != c.version {
		return false
	}
	c.lru.Add(s.StudentFeeID.String(), s)
	return true
}

// Invalidate drops the summary for sfID and fences in-flight fills.
func (c *Cache) Invalidate(sfID id.StudentFeeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	if c.lru != nil {
		c.lru.Remove(sfID.String())
	}
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	if c.lru != nil {
		c.lru.Purge()
	}
}

// Len returns the number of cached summaries.
func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

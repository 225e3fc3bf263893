package syncqueue

import (
	"context"
	"slices"
	"sync"
)

// Cache is the read-optimized local view. Only the queue worker writes it;
// readers may call Current at any time.
type Cache interface {
	ReplaceOrMergeFamily(ctx context.Context, fam Family, items []Item) error
	Current(ctx context.Context, fam Family) ([]Item, error)
}

type MemoryCache struct {
	mu       sync.RWMutex
	families map[Family][]Item
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{families: make(map[Family][]Item)}
}

// ReplaceOrMergeFamily swaps the whole family slice so readers never see a
// partially applied snapshot.
func (c *MemoryCache) ReplaceOrMergeFamily(_ context.Context, fam Family, items []Item) error {
	cp := slices.Clone(items)
	c.mu.Lock()
	c.families[fam] = cp
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Current(_ context.Context, fam Family) ([]Item, error) {
	c.mu.RLock()
	items := c.families[fam]
	c.mu.RUnlock()
	return slices.Clone(items), nil
}

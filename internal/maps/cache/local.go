package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"maps-workers/internal/models"
)

const tierLocal = "local"

// LocalCache is an in-process LRU. It holds encoded entries so callers never
// share a map with the cache.
type LocalCache struct {
	mu          sync.Mutex
	entries     *lru.Cache[string, []byte]
	generations *lru.Cache[string, uint64]
	ttl         time.Duration
	now         func() time.Time
}

func NewLocalCache(size int, ttl time.Duration) (*LocalCache, error) {
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create local map cache: %w", err)
	}
	generations, err := lru.New[string, uint64](size * 4)
	if err != nil {
		return nil, fmt.Errorf("create local map cache: %w", err)
	}
	return &LocalCache{
		entries:     entries,
		generations: generations,
		ttl:         ttl,
		now:         time.Now,
	}, nil
}

func (c *LocalCache) Get(_ context.Context, id string) (*models.SavedMap, bool, error) {
	data, ok := c.entries.Get(id)
	if !ok {
		observe(tierLocal, "miss")
		return nil, false, nil
	}

	m, expiresAt, err := decode(data)
	if err != nil {
		c.entries.Remove(id)
		observe(tierLocal, "error")
		return nil, false, err
	}
	if !expiresAt.IsZero() && !c.now().Before(expiresAt) {
		c.entries.Remove(id)
		observe(tierLocal, "miss")
		return nil, false, nil
	}
	observe(tierLocal, "hit")
	return m, true, nil
}

func (c *LocalCache) Generation(_ context.Context, id string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen, _ := c.generations.Peek(id)
	return gen, nil
}

// Set returns ErrStale when id was invalidated after generation was read.
func (c *LocalCache) Set(_ context.Context, m *models.SavedMap, generation uint64) error {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}
	data, err := encode(m, expiresAt)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if current, _ := c.generations.Peek(m.ID); current != generation {
		observe(tierLocal, "stale")
		return ErrStale
	}
	c.entries.Add(m.ID, data)
	return nil
}

func (c *LocalCache) Invalidate(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.entries.Remove(id)
		gen, _ := c.generations.Peek(id)
		c.generations.Add(id, gen+1)
	}
	return nil
}

func (c *LocalCache) Len() int {
	return c.entries.Len()
}

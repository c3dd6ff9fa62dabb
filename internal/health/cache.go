package health

import (
	"context"
	"sync"
)

// Cache reads the persisted started_at_ms exactly once per process (first request wins the read-through;
// every call after that returns the cached value without touching the store again).
type Cache struct {
	store      *Store
	env        string
	commitHash string

	once      sync.Once
	startedAt int64
	err       error
}

// NewCache wraps store with a single-read-through cache for the given environment and commit hash.
func NewCache(store *Store, env, commitHash string) *Cache {
	return &Cache{store: store, env: env, commitHash: commitHash}
}

// StartedAt returns the cached started_at_ms, performing the read-through (and possible first-write) on the
// first call only. nowMS is only used if this call turns out to be the first writer.
func (c *Cache) StartedAt(ctx context.Context, nowMS int64) (int64, error) {
	c.once.Do(func() {
		c.startedAt, c.err = c.store.EnsureStarted(ctx, c.env, c.commitHash, nowMS)
	})
	return c.startedAt, c.err
}

package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

var _ Cache = (*Memory)(nil)

// Memory is an in-process Cache backed by a TTL'd map. Suitable for single
// instance deployments and tests; multi-instance deployments should prefer
// Redis so revocations converge within one TTL across all replicas.
type Memory struct {
	c *gocache.Cache
}

// NewMemory creates a Memory cache that evicts expired entries every
// cleanupInterval.
func NewMemory(cleanupInterval time.Duration) *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

// Read returns the live value stored under key.
func (m *Memory) Read(_ context.Context, key string) (any, bool) {
	return m.c.Get(key)
}

// Write stores value under key for ttl.
func (m *Memory) Write(_ context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.c.Set(key, value, ttl)
}

// Package cache provides the TTL'd verification cache used to amortize
// digest comparisons, with in-process and Redis backends.
package cache

import (
	"context"
	"time"
)

// NotFound is the explicit negative marker cached for tokens that matched no
// credential, so repeated presentations of an invalid token skip the store.
type NotFound struct{}

// Cache is the contract the authenticator writes through. Legal values are a
// *apikey.Key, a NotFound marker, or a []string prefix set; readers treat
// any other shape as a corrupt entry and fall through to a fresh lookup.
// Implementations must be safe for concurrent readers and writers.
type Cache interface {
	// Read returns the value stored under key, if present and unexpired.
	Read(ctx context.Context, key string) (any, bool)
	// Write stores value under key for ttl. A ttl <= 0 stores nothing.
	Write(ctx context.Context, key string, value any, ttl time.Duration)
}

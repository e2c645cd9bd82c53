// Package cache provides count memoization for the counting service.
// Counting is pure, so a (model, text) pair can be memoized safely.
package cache

import "context"

// Cache is the interface for count memoization.
type Cache interface {
	// Get retrieves a cached count by key.
	Get(ctx context.Context, key string) (int, bool)
	// Set stores a count.
	Set(ctx context.Context, key string, count int)
	// Purge removes all cached counts.
	Purge(ctx context.Context)
}

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// Memory is an in-memory W-TinyLFU cache backed by otter.
type Memory struct {
	cache *otter.Cache[string, int]
}

// NewMemory creates an in-memory cache with the given max entry count and TTL.
// The TTL bounds memory held for texts that are never seen again; correctness
// does not depend on it since counts never change.
func NewMemory(maxSize int, ttl time.Duration) (*Memory, error) {
	c, err := otter.New[string, int](&otter.Options[string, int]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, int](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

// Get retrieves a cached count if present.
func (m *Memory) Get(_ context.Context, key string) (int, bool) {
	return m.cache.GetIfPresent(key)
}

// Set stores a count.
func (m *Memory) Set(_ context.Context, key string, count int) {
	m.cache.Set(key, count)
}

// Purge removes all cached counts.
func (m *Memory) Purge(_ context.Context) {
	m.cache.InvalidateAll()
}

// Key derives the cache key for a (model, text) pair. Hashing keeps keys
// bounded in size regardless of text length and avoids retaining the text.
func Key(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

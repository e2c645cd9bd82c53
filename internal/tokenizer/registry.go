// Package tokenizer maps model identifiers to token-counting codecs.
// Codecs are built on first use and cached for the process lifetime;
// construction is single-flight so concurrent first requests for the same
// model share one build instead of racing.
package tokenizer

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Codec counts tokens for text under one model's encoding.
// Implementations must be safe for concurrent use and pure: the same text
// always yields the same non-negative count.
type Codec interface {
	Count(text string) int
}

// Builder constructs a Codec for a model identifier. Unknown identifiers must
// fail with an error wrapping core.ErrUnknownModel rather than fall back to
// another encoding.
type Builder func(model string) (Codec, error)

// Registry resolves model identifiers to cached Codec handles.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
	group  singleflight.Group
	build  Builder
}

// NewRegistry creates a Registry using the given builder. Pass Tiktoken for
// the production encodings.
func NewRegistry(build Builder) *Registry {
	return &Registry{
		codecs: make(map[string]Codec),
		build:  build,
	}
}

// Resolve returns the codec for model, building and caching it on first use.
// Concurrent first calls for the same model wait on a single construction.
// Failed builds are not cached, so an unknown model fails fast on every call
// without poisoning the cache.
func (r *Registry) Resolve(model string) (Codec, error) {
	r.mu.RLock()
	c, ok := r.codecs[model]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := r.group.Do(model, func() (any, error) {
		// Re-check: an earlier flight may have populated the cache between
		// the read above and entering the group.
		r.mu.RLock()
		c, ok := r.codecs[model]
		r.mu.RUnlock()
		if ok {
			return c, nil
		}

		c, err := r.build(model)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.codecs[model] = c
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Codec), nil
}

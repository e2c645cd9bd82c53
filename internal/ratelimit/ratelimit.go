// Package ratelimit implements fixed-window admission control per client identity.
package ratelimit

import (
	"sync"
	"time"
)

// Policy is the admission policy: at most Requests admitted per Window.
// Requests <= 0 means unlimited.
type Policy struct {
	Requests int64
	Window   time.Duration
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds float64 // seconds left in the current window when rejected
}

// Limiter tracks one identity's request count within the current time window.
// The window is keyed by now truncated to the window size, so it advances
// monotonically and the count resets when the bucket rolls over. All state is
// guarded by one mutex, which makes the read-then-increment atomic: concurrent
// callers can never race more than Requests admissions past the limit.
type Limiter struct {
	mu          sync.Mutex
	policy      Policy
	windowStart time.Time
	count       int64
	lastUsed    time.Time
}

// newLimiter creates a Limiter with the given policy.
func newLimiter(policy Policy) *Limiter {
	return &Limiter{policy: policy, lastUsed: time.Now()}
}

// Allow admits or rejects one request against the current window.
func (l *Limiter) Allow() Result {
	return l.allow(time.Now())
}

func (l *Limiter) allow(now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastUsed = now

	if l.policy.Requests <= 0 {
		return Result{Allowed: true}
	}

	start := now.Truncate(l.policy.Window)
	if !start.Equal(l.windowStart) {
		l.windowStart = start
		l.count = 0
	}

	if l.count < l.policy.Requests {
		l.count++
		return Result{
			Allowed:   true,
			Limit:     l.policy.Requests,
			Remaining: l.policy.Requests - l.count,
		}
	}

	return Result{
		Allowed:           false,
		Limit:             l.policy.Requests,
		Remaining:         0,
		RetryAfterSeconds: start.Add(l.policy.Window).Sub(now).Seconds(),
	}
}

// Registry manages per-identity Limiters under a shared policy.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	policy   Policy
}

// NewRegistry creates a rate limiter registry with the given policy.
func NewRegistry(policy Policy) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		policy:   policy,
	}
}

// GetOrCreate returns the limiter for key, creating one if needed.
func (r *Registry) GetOrCreate(key string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok := r.limiters[key]; ok {
		return l
	}
	l = newLimiter(r.policy)
	r.limiters[key] = l
	return l
}

// EvictStale removes limiters not used since cutoff and returns how many.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

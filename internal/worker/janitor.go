package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tokenwise/tokenmeter/internal/ratelimit"
)

// LimiterJanitor periodically evicts per-identity rate limiters that have
// been idle longer than maxIdle, bounding the registry's memory under
// churning client populations. maxIdle must exceed the rate-limit window or
// an in-flight window could be forgotten and its count reset.
type LimiterJanitor struct {
	registry *ratelimit.Registry
	interval time.Duration
	maxIdle  time.Duration
}

// NewLimiterJanitor creates a janitor sweeping registry every interval.
func NewLimiterJanitor(registry *ratelimit.Registry, interval, maxIdle time.Duration) *LimiterJanitor {
	return &LimiterJanitor{
		registry: registry,
		interval: interval,
		maxIdle:  maxIdle,
	}
}

// Run sweeps until ctx is cancelled.
func (j *LimiterJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := j.registry.EvictStale(time.Now().Add(-j.maxIdle)); evicted > 0 {
				slog.Debug("evicted stale limiters", "count", evicted)
			}
		}
	}
}

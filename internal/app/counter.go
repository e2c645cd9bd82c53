// Package app implements the counting services behind the HTTP transport.
package app

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	core "github.com/tokenwise/tokenmeter/internal"
	"github.com/tokenwise/tokenmeter/internal/cache"
	"github.com/tokenwise/tokenmeter/internal/telemetry"
	"github.com/tokenwise/tokenmeter/internal/tokenizer"
)

// Options configures a CounterService.
type Options struct {
	DefaultModel  string
	MaxTextLength int // bytes per text
	MaxBatchSize  int // items per batch
	Parallelism   int // batch fan-out width; <= 0 means GOMAXPROCS
	Cache         cache.Cache        // nil = no memoization
	Metrics       *telemetry.Metrics // nil = no metrics
}

// CounterService orchestrates token counting: validation, model resolution,
// and batch fan-out with per-item error isolation. The tokenizer registry is
// injected at construction so the service carries no process-wide state.
type CounterService struct {
	registry *tokenizer.Registry
	opts     Options
	tracer   trace.Tracer
}

// NewCounterService creates a CounterService backed by the given registry.
func NewCounterService(registry *tokenizer.Registry, opts Options) *CounterService {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	return &CounterService{
		registry: registry,
		opts:     opts,
		tracer:   telemetry.Tracer("tokenmeter/app"),
	}
}

// ValidateCount checks a single-text request. Runs before the admission gate
// so malformed requests never consume quota.
func (s *CounterService) ValidateCount(req *core.CountRequest) error {
	if req.Text == "" {
		return fmt.Errorf("%w: text must not be empty", core.ErrBadRequest)
	}
	if len(req.Text) > s.opts.MaxTextLength {
		return fmt.Errorf("%w: text exceeds %d bytes", core.ErrTextTooLong, s.opts.MaxTextLength)
	}
	return nil
}

// ValidateBatch checks the batch envelope. Violations fail the whole batch
// before any per-item work starts.
func (s *CounterService) ValidateBatch(req *core.BatchRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: texts must not be empty", core.ErrBadRequest)
	}
	if len(req.Texts) > s.opts.MaxBatchSize {
		return fmt.Errorf("%w: %d items exceeds the configured maximum of %d",
			core.ErrBatchTooLarge, len(req.Texts), s.opts.MaxBatchSize)
	}
	for i, item := range req.Texts {
		if item.TextID == "" {
			return fmt.Errorf("%w: item %d is missing text_id", core.ErrBadRequest, i)
		}
	}
	return nil
}

// Count counts tokens for one text.
func (s *CounterService) Count(ctx context.Context, req *core.CountRequest) (*core.CountResult, error) {
	start := time.Now()

	if err := s.ValidateCount(req); err != nil {
		return nil, err
	}

	model := s.model(req.Model)
	codec, err := s.registry.Resolve(model)
	if err != nil {
		return nil, err
	}

	n, err := s.countText(ctx, codec, model, req.Text)
	if err != nil {
		return nil, err
	}

	return &core.CountResult{
		TokenCount:       n,
		Model:            model,
		ProcessingTimeMs: elapsedMs(start),
	}, nil
}

// BatchCount counts tokens for every item of a batch, in input order. Each
// input item yields exactly one entry; a per-item failure is recorded on that
// entry and never aborts the remaining items. Items fan out to parallel
// workers; the index-addressed results slice restores input order.
func (s *CounterService) BatchCount(ctx context.Context, req *core.BatchRequest) (*core.BatchResult, error) {
	start := time.Now()

	if err := s.ValidateBatch(req); err != nil {
		return nil, err
	}

	model := s.model(req.Model)
	entries := make([]core.BatchEntry, len(req.Texts))

	ctx, span := s.tracer.Start(ctx, "batch_count",
		trace.WithAttributes(
			attribute.String("model", model),
			attribute.Int("items", len(req.Texts)),
		))
	defer span.End()

	codec, err := s.registry.Resolve(model)
	if err != nil {
		// Model resolution failure is not part of the batch envelope error
		// surface; it is reported per item so the one-entry-per-item
		// invariant holds.
		for i, item := range req.Texts {
			entries[i] = core.BatchEntry{TextID: item.TextID, Error: err.Error()}
		}
		s.recordBatch(entries)
		return &core.BatchResult{
			Results:          entries,
			Model:            model,
			ProcessingTimeMs: elapsedMs(start),
		}, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for i, item := range req.Texts {
		g.Go(func() error {
			n, err := s.countItem(ctx, codec, model, item.Text)
			if err != nil {
				entries[i] = core.BatchEntry{TextID: item.TextID, Error: err.Error()}
			} else {
				entries[i] = core.BatchEntry{TextID: item.TextID, TokenCount: &n}
			}
			return nil // item failures stay on the entry
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	s.recordBatch(entries)
	return &core.BatchResult{
		Results:          entries,
		Model:            model,
		ProcessingTimeMs: elapsedMs(start),
	}, nil
}

// countItem validates and counts one batch item.
func (s *CounterService) countItem(ctx context.Context, codec tokenizer.Codec, model, text string) (int, error) {
	if text == "" {
		return 0, fmt.Errorf("%w: text must not be empty", core.ErrBadRequest)
	}
	if len(text) > s.opts.MaxTextLength {
		return 0, fmt.Errorf("%w: text exceeds %d bytes", core.ErrTextTooLong, s.opts.MaxTextLength)
	}
	return s.countText(ctx, codec, model, text)
}

// countText counts tokens for text, memoizing through the cache when present.
// A panicking codec is contained here so one bad text cannot take down the
// whole request or batch.
func (s *CounterService) countText(ctx context.Context, codec tokenizer.Codec, model, text string) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tokenizer failure: %v", rec)
		}
	}()

	var key string
	if s.opts.Cache != nil {
		key = cache.Key(model, text)
		if cached, ok := s.opts.Cache.Get(ctx, key); ok {
			if s.opts.Metrics != nil {
				s.opts.Metrics.CacheHits.Inc()
			}
			return cached, nil
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.CacheMisses.Inc()
		}
	}

	n = codec.Count(text)
	if s.opts.Cache != nil {
		s.opts.Cache.Set(ctx, key, n)
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.TokensCounted.WithLabelValues(model).Add(float64(n))
	}
	return n, nil
}

// model returns the requested model or the configured default when absent.
func (s *CounterService) model(requested string) string {
	if requested == "" {
		return s.opts.DefaultModel
	}
	return requested
}

// recordBatch updates per-item outcome metrics.
func (s *CounterService) recordBatch(entries []core.BatchEntry) {
	if s.opts.Metrics == nil {
		return
	}
	for _, e := range entries {
		if e.Error != "" {
			s.opts.Metrics.BatchItems.WithLabelValues("error").Inc()
		} else {
			s.opts.Metrics.BatchItems.WithLabelValues("ok").Inc()
		}
	}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

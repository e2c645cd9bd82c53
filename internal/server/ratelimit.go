package server

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	core "github.com/tokenwise/tokenmeter/internal"
)

// globalRateKey is the admission bucket used when no identity is available.
const globalRateKey = "global"

// admit runs the rate-limit gate for the current request and reports whether
// processing may continue. A batch request passes through here exactly once:
// the batch is a single rate-limited operation, not one per item. On rejection
// the response carries Retry-After with the seconds left in the window;
// rejection is an expected outcome and is never logged as a fault.
func (s *server) admit(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.RateLimiter == nil {
		return true
	}

	key := globalRateKey
	if id := core.IdentityFromContext(r.Context()); id != nil {
		key = id.RateKey()
	}

	res := s.deps.RateLimiter.GetOrCreate(key).Allow()
	if res.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	}
	if res.Allowed {
		return true
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RateLimitRejects.Inc()
	}
	retry := int(math.Ceil(res.RetryAfterSeconds))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	slog.LogAttrs(r.Context(), slog.LevelDebug, "rate limit rejection",
		slog.String("key", key),
		slog.Int("retry_after_s", retry),
	)
	writeJSON(w, http.StatusTooManyRequests,
		errorResponse("rate limit exceeded: retry after "+strconv.Itoa(retry)+"s", errTypeRateLimit))
	return false
}

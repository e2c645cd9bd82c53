package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	core "github.com/tokenwise/tokenmeter/internal"
	"github.com/tokenwise/tokenmeter/internal/app"
	"github.com/tokenwise/tokenmeter/internal/auth"
	"github.com/tokenwise/tokenmeter/internal/ratelimit"
	"github.com/tokenwise/tokenmeter/internal/tokenizer"
)

// wordCodec counts whitespace-separated words.
type wordCodec struct{}

func (wordCodec) Count(text string) int { return len(strings.Fields(text)) }

// recordingBuilder resolves any model except "no-such-model" and remembers
// which models were requested.
type recordingBuilder struct {
	mu     sync.Mutex
	models []string
}

func (b *recordingBuilder) build(model string) (tokenizer.Codec, error) {
	b.mu.Lock()
	b.models = append(b.models, model)
	b.mu.Unlock()
	if model == "no-such-model" {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownModel, model)
	}
	return wordCodec{}, nil
}

func (b *recordingBuilder) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.models...)
}

func newTestHandler(deps Deps) http.Handler {
	if deps.Auth == nil {
		deps.Auth = auth.New("user", "pass")
	}
	if deps.Counter == nil {
		b := &recordingBuilder{}
		deps.Counter = app.NewCounterService(tokenizer.NewRegistry(b.build), app.Options{
			DefaultModel:  "gpt-3.5-turbo",
			MaxTextLength: 1000,
			MaxBatchSize:  3,
		})
	}
	return New(deps)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.SetBasicAuth("user", "pass")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{})

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", false)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz_NotReady(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{
		ReadyCheck: func(context.Context) error { return errors.New("tokenizer not loaded") },
	})

	rec := doJSON(t, h, http.MethodGet, "/readyz", "", false)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthJSON(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{})

	rec := doJSON(t, h, http.MethodGet, "/v1/health", "", false)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %q, want JSON status ok", rec.Body.String())
	}
}

func TestCountTokens(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{})

	rec := doJSON(t, h, http.MethodPost, "/v1/tokens/count",
		`{"text":"one two three","model":"gpt-4"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var res core.CountResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.TokenCount != 3 {
		t.Errorf("token_count = %d, want 3", res.TokenCount)
	}
	if res.Model != "gpt-4" {
		t.Errorf("model = %q, want gpt-4", res.Model)
	}
	if res.ProcessingTimeMs < 0 {
		t.Errorf("processing_time_ms = %v, want >= 0", res.ProcessingTimeMs)
	}
}

// Missing header, wrong username, and wrong password must produce identical
// 401 responses.
func TestCountTokens_AuthFailuresUniform(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{})

	reqFor := func(configure func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/tokens/count",
			strings.NewReader(`{"text":"hi"}`))
		configure(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	recs := []*httptest.ResponseRecorder{
		reqFor(func(*http.Request) {}),
		reqFor(func(r *http.Request) { r.SetBasicAuth("user", "wrong") }),
		reqFor(func(r *http.Request) { r.SetBasicAuth("wrong", "pass") }),
	}
	for i, rec := range recs {
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("case %d: status = %d, want 401", i, rec.Code)
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("case %d: missing WWW-Authenticate header", i)
		}
		if rec.Body.String() != recs[0].Body.String() {
			t.Errorf("case %d: body %q differs from %q", i, rec.Body.String(), recs[0].Body.String())
		}
	}
}

func TestCountTokens_EmptyText(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{})

	rec := doJSON(t, h, http.MethodPost, "/v1/tokens/count", `{"text":""}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCountTokens_InvalidBody(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{})

	rec := doJSON(t, h, http.MethodPost, "/v1/tokens/count", `{not json`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCountTokens_UnknownModel(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{})

	rec := doJSON(t, h, http.MethodPost, "/v1/tokens/count",
		`{"text":"hi","model":"no-such-model"}`, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, http.StatusNotFound, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "model_not_found") {
		t.Errorf("body = %q, want model_not_found type", rec.Body.String())
	}
}

func TestBatchCountTokens(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{})

	body := `{"texts":[
		{"text":"one two","text_id":"text1"},
		{"text":"","text_id":"text2"},
		{"text":"one two three","text_id":"text3"}
	],"model":"gpt-4"}`
	rec := doJSON(t, h, http.MethodPost, "/v1/tokens/batch-count", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var res core.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(res.Results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(res.Results))
	}
	if res.Results[0].TextID != "text1" || res.Results[1].TextID != "text2" || res.Results[2].TextID != "text3" {
		t.Errorf("result order not preserved: %+v", res.Results)
	}
	if res.Results[1].Error == "" {
		t.Errorf("results[1] = %+v, want an error entry for the empty text", res.Results[1])
	}
	if res.Results[0].TokenCount == nil || *res.Results[0].TokenCount != 2 {
		t.Errorf("results[0] = %+v, want count 2", res.Results[0])
	}
}

func TestBatchCountTokens_TooLarge(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{}) // max batch size 3

	body := `{"texts":[
		{"text":"a","text_id":"1"},
		{"text":"b","text_id":"2"},
		{"text":"c","text_id":"3"},
		{"text":"d","text_id":"4"}
	]}`
	rec := doJSON(t, h, http.MethodPost, "/v1/tokens/batch-count", body, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "3") {
		t.Errorf("body = %q, want the configured limit named", rec.Body.String())
	}
}

// Per-item model keys in the wire format are tolerated but ignored: only the
// batch-level model is ever resolved.
func TestBatchCountTokens_PerItemModelIgnored(t *testing.T) {
	t.Parallel()
	b := &recordingBuilder{}
	counter := app.NewCounterService(tokenizer.NewRegistry(b.build), app.Options{
		DefaultModel:  "gpt-3.5-turbo",
		MaxTextLength: 1000,
		MaxBatchSize:  10,
	})
	h := newTestHandler(Deps{Counter: counter})

	body := `{"texts":[
		{"text":"one","text_id":"a","model":"gpt-4"},
		{"text":"two","text_id":"b","model":"no-such-model"}
	],"model":"gpt-3.5-turbo"}`
	rec := doJSON(t, h, http.MethodPost, "/v1/tokens/batch-count", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	for _, model := range b.seen() {
		if model != "gpt-3.5-turbo" {
			t.Errorf("builder saw %q, want only the batch-level model", model)
		}
	}

	var res core.BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for i, entry := range res.Results {
		if entry.Error != "" {
			t.Errorf("results[%d] = %+v, want success despite the per-item model key", i, entry)
		}
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{
		RateLimiter: ratelimit.NewRegistry(ratelimit.Policy{Requests: 1, Window: time.Hour}),
	})

	first := doJSON(t, h, http.MethodPost, "/v1/tokens/count", `{"text":"hi"}`, true)
	if first.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" {
		t.Errorf("X-RateLimit-Limit = %q, want 1", first.Header().Get("X-RateLimit-Limit"))
	}

	second := doJSON(t, h, http.MethodPost, "/v1/tokens/count", `{"text":"hi"}`, true)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("429 response should carry Retry-After")
	}
	if !strings.Contains(second.Body.String(), "rate_limit_error") {
		t.Errorf("body = %q, want rate_limit_error type", second.Body.String())
	}
}

// A batch consumes exactly one admission regardless of item count.
func TestRateLimit_BatchAdmittedOnce(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{
		RateLimiter: ratelimit.NewRegistry(ratelimit.Policy{Requests: 2, Window: time.Hour}),
	})

	body := `{"texts":[
		{"text":"a","text_id":"1"},
		{"text":"b","text_id":"2"},
		{"text":"c","text_id":"3"}
	]}`
	for i := range 2 {
		rec := doJSON(t, h, http.MethodPost, "/v1/tokens/batch-count", body, true)
		if rec.Code != http.StatusOK {
			t.Fatalf("batch %d: status = %d, want 200", i+1, rec.Code)
		}
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/tokens/batch-count", body, true)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third batch: status = %d, want 429", rec.Code)
	}
}

// Malformed requests are rejected before the admission gate and never consume
// quota.
func TestRateLimit_ValidationBeforeAdmission(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{
		RateLimiter: ratelimit.NewRegistry(ratelimit.Policy{Requests: 1, Window: time.Hour}),
	})

	for range 5 {
		rec := doJSON(t, h, http.MethodPost, "/v1/tokens/count", `{"text":""}`, true)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("invalid request: status = %d, want 400", rec.Code)
		}
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/tokens/count", `{"text":"hi"}`, true)
	if rec.Code != http.StatusOK {
		t.Errorf("valid request after invalid ones: status = %d, want 200", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	h := newTestHandler(Deps{})

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", false)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("response should carry X-Request-Id")
	}
}

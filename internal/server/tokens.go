package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tidwall/gjson"

	core "github.com/tokenwise/tokenmeter/internal"
)

// maxRequestBody bounds inbound bodies; anything a valid request could carry
// fits comfortably under it.
const maxRequestBody = 32 << 20 // 32 MiB

// bodyPool recycles buffers for raw body reads on the batch path.
var bodyPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// handleCountTokens handles POST /v1/tokens/count. Order: decode, validate,
// admit, count -- a rejected or malformed request never reaches a tokenizer.
func (s *server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req core.CountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse("invalid request body: "+err.Error(), errTypeInvalidRequest))
		return
	}

	if err := s.deps.Counter.ValidateCount(&req); err != nil {
		writeError(w, r, err)
		return
	}

	if !s.admit(w, r) {
		return
	}

	res, err := s.deps.Counter.Count(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleBatchCountTokens handles POST /v1/tokens/batch-count. The whole batch
// is admitted as one rate-limited operation. The raw body is inspected first:
// the wire format tolerates a per-item "model" key, but only the batch-level
// model applies, so any overrides are logged and ignored.
func (s *server) handleBatchCountTokens(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	if _, err := buf.ReadFrom(r.Body); err != nil {
		bodyPool.Put(buf)
		writeJSON(w, http.StatusBadRequest,
			errorResponse("failed to read request body", errTypeInvalidRequest))
		return
	}
	body := bytes.Clone(buf.Bytes())
	bodyPool.Put(buf)

	if overrides := gjson.GetBytes(body, "texts.#.model").Array(); len(overrides) > 0 {
		slog.LogAttrs(r.Context(), slog.LevelWarn, "per-item model overrides ignored",
			slog.Int("items", len(overrides)),
			slog.String("request_id", core.RequestIDFromContext(r.Context())),
		)
	}

	var req core.BatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse("invalid request body: "+err.Error(), errTypeInvalidRequest))
		return
	}

	if err := s.deps.Counter.ValidateBatch(&req); err != nil {
		writeError(w, r, err)
		return
	}

	if !s.admit(w, r) {
		return
	}

	res, err := s.deps.Counter.BatchCount(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

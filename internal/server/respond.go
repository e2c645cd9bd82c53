package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	core "github.com/tokenwise/tokenmeter/internal"
)

// Error type strings in the response body, one per error kind.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypeRateLimit      = "rate_limit_error"
	errTypeModelNotFound  = "model_not_found"
	errTypeInternal       = "internal_error"
)

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg, typ string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = typ
	return e
}

// errorStatus maps a domain error to an HTTP status and response error type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized, errTypeAuthentication
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests, errTypeRateLimit
	case errors.Is(err, core.ErrUnknownModel):
		return http.StatusNotFound, errTypeModelNotFound
	case errors.Is(err, core.ErrBadRequest),
		errors.Is(err, core.ErrBatchTooLarge),
		errors.Is(err, core.ErrTextTooLong):
		return http.StatusBadRequest, errTypeInvalidRequest
	default:
		return http.StatusInternalServerError, errTypeInternal
	}
}

// writeError renders a domain error. Internal failures are logged with detail
// server-side and returned to the client as an opaque message; every 4xx keeps
// its descriptive message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, typ := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
			slog.String("request_id", core.RequestIDFromContext(r.Context())),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse(msg, typ))
}

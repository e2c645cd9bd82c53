// Package core defines domain types and interfaces for the tokenmeter service.
// This package has no project imports -- it is the dependency root.
package core

import (
	"context"
	"net/http"
)

// --- Requests and results ---

// CountRequest is a single-text token counting request.
type CountRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"` // empty = configured default model
}

// CountResult is the outcome of a successful single-text count.
type CountResult struct {
	TokenCount       int     `json:"token_count"`
	Model            string  `json:"model"` // model actually used
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// BatchItem is one text within a batch request. TextID is a client-supplied
// correlation key, unique only within the batch by convention; duplicates are
// processed and reported independently.
type BatchItem struct {
	Text   string `json:"text"`
	TextID string `json:"text_id"`
}

// BatchRequest is a multi-text counting request. Model applies uniformly to
// every item; any per-item model field in the wire format is ignored.
type BatchRequest struct {
	Texts []BatchItem `json:"texts"`
	Model string      `json:"model,omitempty"`
}

// BatchEntry is the per-item outcome within a batch result. Exactly one of
// TokenCount or Error is set.
type BatchEntry struct {
	TextID     string `json:"text_id"`
	TokenCount *int   `json:"token_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BatchResult holds one entry per input item, in input order.
type BatchResult struct {
	Results          []BatchEntry `json:"results"`
	Model            string       `json:"model"`
	ProcessingTimeMs float64      `json:"processing_time_ms"`
}

// --- Identity ---

// Identity is the authenticated caller context attached to request context.
type Identity struct {
	Subject    string `json:"subject"`     // username, or remote host when auth is disabled
	AuthMethod string `json:"auth_method"` // "basic" or "anonymous"
}

// RateKey returns the rate-limit bucket key for this identity.
func (id *Identity) RateKey() string { return id.Subject }

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

// metaFromContext returns the requestMeta stored in ctx, or nil.
func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new metadata
// if none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

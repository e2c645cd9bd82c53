package core

import "errors"

// Sentinel errors for the token counting domain.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnknownModel  = errors.New("unknown model")
	ErrBadRequest    = errors.New("bad request")
	ErrBatchTooLarge = errors.New("batch too large")
	ErrTextTooLong   = errors.New("text too long")
)

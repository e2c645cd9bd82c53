// Package worker provides background maintenance workers for the service.
package worker

import "context"

// Worker is a long-running background task driven by a context.
type Worker interface {
	// Run blocks until ctx is cancelled or an unrecoverable error occurs.
	Run(ctx context.Context) error
}

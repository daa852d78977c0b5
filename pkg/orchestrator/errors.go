package orchestrator

import (
	"errors"
	"fmt"
)

// ErrNoCredential means the pool had nothing to offer before the first
// attempt. Callers surface it distinctly so clients can back off instead of
// retrying into an empty pool.
var ErrNoCredential = errors.New("no credential available")

// ExhaustedError means every attempt failed transport- or upstream-side.
type ExhaustedError struct {
	// Attempts is the configured attempt cap that was reached.
	Attempts int

	// LastErr is the error from the final attempt.
	LastErr error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("all %d attempts failed, last error: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("all %d attempts failed", e.Attempts)
}

// Unwrap returns the final attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

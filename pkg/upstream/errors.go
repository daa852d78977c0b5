package upstream

import (
	"fmt"
	"time"
)

// TransportError represents a network/TLS failure before any upstream status
// was received. The orchestrator retries these with a new proxy for the same
// credential.
type TransportError struct {
	// Op is the stage that failed ("proxy", "request", "do", "read").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream transport error (%s): %v", e.Op, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// RetryableError represents an upstream rejection that a fresh
// credential+proxy pair may get past: rate limits, anti-bot blocks, and
// transient 5xx responses.
type RetryableError struct {
	// StatusCode is the upstream HTTP status.
	StatusCode int

	// Fault attributes the failure per the classification table.
	Fault Fault

	// RetryAfter is the wait the upstream requested, if any.
	RetryAfter time.Duration

	// Message is the upstream error message.
	Message string
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream rejected with status %d (retry after %s): %s",
			e.StatusCode, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("upstream rejected with status %d: %s", e.StatusCode, e.Message)
}

// FatalError represents a non-retryable upstream rejection: a malformed
// request or a permanently invalid credential. The orchestrator aborts
// immediately and surfaces it to the caller.
type FatalError struct {
	// StatusCode is the upstream HTTP status, 0 if not applicable.
	StatusCode int

	// CredentialFault marks failures specific to the credential; the
	// orchestrator disables the credential when set.
	CredentialFault bool

	// Message is the upstream error message.
	Message string
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream fatal error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream fatal error: %s", e.Message)
}

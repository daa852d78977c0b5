package stream

import (
	"fmt"
	"time"
)

// TimeoutKind distinguishes the two watchdog limits.
type TimeoutKind int

const (
	// TimeoutStall fires when no upstream event arrives within the stall
	// window.
	TimeoutStall TimeoutKind = iota

	// TimeoutOverall fires when the call exceeds its wall-clock limit
	// regardless of activity.
	TimeoutOverall
)

// String names the kind for logs and metric labels.
func (k TimeoutKind) String() string {
	if k == TimeoutStall {
		return "stall"
	}
	return "overall"
}

// TimeoutError terminates a session. The orchestrator treats it as terminal
// with no pool penalty.
type TimeoutError struct {
	// Kind is the limit that fired.
	Kind TimeoutKind

	// Elapsed is how long the session ran.
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Kind == TimeoutStall {
		return fmt.Sprintf("stream stalled, no event for the stall window (elapsed %s)", e.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("stream exceeded overall timeout (elapsed %s)", e.Elapsed.Round(time.Millisecond))
}

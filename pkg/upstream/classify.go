package upstream

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Mouseww/grok2api-pro/pkg/config"
)

// Fault attributes an upstream rejection to the party most likely at fault.
// The boundary between detection-type failures that should penalize the proxy
// versus the account is policy, not protocol, so it lives in the
// configuration rather than in status-code logic here.
type Fault int

const (
	// FaultAccount blames the credential: quota, ban, invalid session.
	FaultAccount Fault = iota

	// FaultProxy blames the egress proxy: connectivity, upstream refusing
	// the exit IP.
	FaultProxy

	// FaultAmbiguous means the block could be either; it only counts
	// against the proxy when it recurs across distinct proxies.
	FaultAmbiguous
)

// String returns the fault name used in logs and the call log.
func (f Fault) String() string {
	switch f {
	case FaultProxy:
		return "proxy"
	case FaultAmbiguous:
		return "ambiguous"
	default:
		return "account"
	}
}

// Classifier turns upstream responses and transport errors into the typed
// errors the orchestrator's retry policy is written against.
type Classifier struct {
	retryable map[int]bool
	faults    map[int]Fault
}

// NewClassifier builds a classifier from the upstream configuration.
func NewClassifier(cfg *config.UpstreamConfig) *Classifier {
	retryable := make(map[int]bool, len(cfg.RetryableStatusCodes))
	for _, code := range cfg.RetryableStatusCodes {
		retryable[code] = true
	}

	faults := make(map[int]Fault, len(cfg.FaultClassification))
	for code, fault := range cfg.FaultClassification {
		switch fault {
		case "proxy":
			faults[code] = FaultProxy
		case "ambiguous":
			faults[code] = FaultAmbiguous
		default:
			faults[code] = FaultAccount
		}
	}

	return &Classifier{retryable: retryable, faults: faults}
}

// ClassifyStatus maps a non-2xx upstream status to a RetryableError or
// FatalError. 2xx statuses return nil.
func (c *Classifier) ClassifyStatus(statusCode int, headers http.Header, message string) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	if c.retryable[statusCode] {
		return &RetryableError{
			StatusCode: statusCode,
			Fault:      c.fault(statusCode),
			RetryAfter: parseRetryAfter(headers),
			Message:    message,
		}
	}

	return &FatalError{
		StatusCode: statusCode,
		// 4xx outside the retryable set means the upstream rejected this
		// credential's request outright.
		CredentialFault: statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden,
		Message:         message,
	}
}

func (c *Classifier) fault(statusCode int) Fault {
	if fault, ok := c.faults[statusCode]; ok {
		return fault
	}
	if statusCode >= 500 {
		return FaultProxy
	}
	return FaultAccount
}

func parseRetryAfter(headers http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Package account owns the pool of upstream credentials: their health and
// usage counters, the selection policy, and write-behind persistence.
package account

import (
	"time"
)

// Status is the lifecycle state of a credential.
type Status string

const (
	// StatusActive credentials participate in normal selection.
	StatusActive Status = "active"

	// StatusCoolingDown credentials are skipped until the cooldown
	// expires, and selected before that only when no active credential
	// qualifies.
	StatusCoolingDown Status = "cooling_down"

	// StatusDisabled credentials are never selected until explicitly
	// re-enabled.
	StatusDisabled Status = "disabled"
)

// FailureKind distinguishes transient failures from quota/ban-type failures
// when reporting a call outcome.
type FailureKind int

const (
	// FailureTransient covers network errors and transient upstream
	// errors; repeated occurrences send the credential into cooldown.
	FailureTransient FailureKind = iota

	// FailureQuota covers rate-limit and ban-type rejections; repeated
	// occurrences disable the credential.
	FailureQuota
)

// Account is one upstream credential and its pool-tracked state.
type Account struct {
	// ID is the opaque account token.
	ID string `json:"id"`

	Status Status `json:"status"`

	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastUsed is when the credential was last selected.
	LastUsed time.Time `json:"last_used"`

	// CooldownUntil is when a cooling-down credential becomes active
	// again.
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`

	// ProxyID is the bound proxy, owned and written by the proxy pool.
	ProxyID string `json:"proxy_id,omitempty"`

	// Usage tracks per-model-class call counts inside the quota window.
	Usage map[string]*UsageWindow `json:"usage,omitempty"`

	AddedAt       time.Time `json:"added_at"`
	TotalCalls    int64     `json:"total_calls"`
	TotalFailures int64     `json:"total_failures"`
}

// UsageWindow is a call counter that resets when its window expires.
type UsageWindow struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// Redact returns a display-safe form of a credential token for logs.
func Redact(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:8] + "****"
}

// clone returns a copy safe to hand outside the pool lock.
func (a *Account) clone() *Account {
	out := *a
	if a.Usage != nil {
		out.Usage = make(map[string]*UsageWindow, len(a.Usage))
		for model, w := range a.Usage {
			copied := *w
			out.Usage[model] = &copied
		}
	}
	return &out
}
